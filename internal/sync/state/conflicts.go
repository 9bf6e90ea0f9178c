package state

import (
	"context"
)

// SavePendingConflict records a conflict awaiting an external decision.
// Re-detecting an existing conflict refreshes its digests but keeps any
// recorded resolution.
func (s *Store) SavePendingConflict(ctx context.Context, c PendingConflict) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_conflicts (mapping_id, relative_path, detected_at, local_digest, remote_etag, resolution)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(mapping_id, relative_path) DO UPDATE SET
			detected_at=excluded.detected_at,
			local_digest=excluded.local_digest,
			remote_etag=excluded.remote_etag
	`, c.MappingID, c.RelativePath, c.DetectedAt, c.LocalDigest, c.RemoteETag, string(c.Resolution))
	return err
}

// ListPendingConflicts returns the conflicts for a mapping, oldest first
func (s *Store) ListPendingConflicts(ctx context.Context, mappingID string) (conflicts []PendingConflict, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mapping_id, relative_path, detected_at, local_digest, remote_etag, resolution
		FROM pending_conflicts WHERE mapping_id = ? ORDER BY detected_at, relative_path
	`, mappingID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var c PendingConflict
		var resolution string
		if err := rows.Scan(&c.MappingID, &c.RelativePath, &c.DetectedAt, &c.LocalDigest, &c.RemoteETag, &resolution); err != nil {
			return nil, err
		}
		c.Resolution = ConflictPolicy(resolution)
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// SetConflictResolution records the decision for a pending conflict; it is
// applied on the next pass.
func (s *Store) SetConflictResolution(ctx context.Context, mappingID, relativePath string, resolution ConflictPolicy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_conflicts SET resolution = ?
		WHERE mapping_id = ? AND relative_path = ?
	`, string(resolution), mappingID, relativePath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// ClearPendingConflict removes a conflict once it has been applied
func (s *Store) ClearPendingConflict(ctx context.Context, mappingID, relativePath string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_conflicts WHERE mapping_id = ? AND relative_path = ?
	`, mappingID, relativePath)
	return err
}
