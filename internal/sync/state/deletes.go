package state

import (
	"context"
)

// SavePendingDeletes replaces the withheld deletions for a mapping with
// the given set. Called when the mass-deletion gate trips.
func (s *Store) SavePendingDeletes(ctx context.Context, mappingID string, deletes []PendingDelete) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_deletes WHERE mapping_id = ?`, mappingID); err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_deletes (mapping_id, relative_path, side, remote_id, is_dir, requested_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, d := range deletes {
		if _, err := stmt.ExecContext(ctx, mappingID, d.RelativePath, d.Side, d.RemoteID, boolToInt(d.IsDir), d.RequestedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ListPendingDeletes returns the withheld deletions for a mapping
func (s *Store) ListPendingDeletes(ctx context.Context, mappingID string) (deletes []PendingDelete, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mapping_id, relative_path, side, remote_id, is_dir, requested_at
		FROM pending_deletes WHERE mapping_id = ? ORDER BY relative_path
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
		var d PendingDelete
		var isDir int
		if err := rows.Scan(&d.MappingID, &d.RelativePath, &d.Side, &d.RemoteID, &isDir, &d.RequestedAt); err != nil {
			return nil, err
		}
		d.IsDir = isDir != 0
		deletes = append(deletes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deletes, nil
}

// ClearPendingDeletes drops all withheld deletions for a mapping, either
// after they were executed or when the operator discards them.
func (s *Store) ClearPendingDeletes(ctx context.Context, mappingID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_deletes WHERE mapping_id = ?`, mappingID)
	return err
}
