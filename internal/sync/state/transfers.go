package state

import (
	"context"
	"database/sql"
)

// SaveTransfer records an in-flight transfer so it can resume after a crash
func (s *Store) SaveTransfer(ctx context.Context, t Transfer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (mapping_id, relative_path, kind, resume_token, temp_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mapping_id, relative_path, kind) DO UPDATE SET
			resume_token=excluded.resume_token,
			temp_path=excluded.temp_path
	`, t.MappingID, t.RelativePath, t.Kind, t.ResumeToken, t.TempPath)
	return err
}

// LoadTransfer fetches the persisted transfer for a path, nil if none
func (s *Store) LoadTransfer(ctx context.Context, mappingID, relativePath, kind string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mapping_id, relative_path, kind, resume_token, temp_path
		FROM transfers WHERE mapping_id = ? AND relative_path = ? AND kind = ?
	`, mappingID, relativePath, kind)

	var t Transfer
	err := row.Scan(&t.MappingID, &t.RelativePath, &t.Kind, &t.ResumeToken, &t.TempPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ClearTransfer drops a transfer record after completion or abandonment
func (s *Store) ClearTransfer(ctx context.Context, mappingID, relativePath, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transfers WHERE mapping_id = ? AND relative_path = ? AND kind = ?
	`, mappingID, relativePath, kind)
	return err
}
