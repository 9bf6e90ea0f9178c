package state

import (
	"context"
	"database/sql"
)

// LoadRecords returns all per-path records for a mapping keyed by
// relative path.
func (s *Store) LoadRecords(ctx context.Context, mappingID string) (records map[string]ItemRecord, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mapping_id, relative_path, is_dir, remote_id, etag, fingerprint, local_mtime, size
		FROM item_records WHERE mapping_id = ?
	`, mappingID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	records = make(map[string]ItemRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records[rec.RelativePath] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecordByRemoteID fetches a record by its remote item ID, nil if unknown
func (s *Store) GetRecordByRemoteID(ctx context.Context, mappingID, remoteID string) (*ItemRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mapping_id, relative_path, is_dir, remote_id, etag, fingerprint, local_mtime, size
		FROM item_records WHERE mapping_id = ? AND remote_id = ? LIMIT 1
	`, mappingID, remoteID)
	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Tx batches record mutations for one pass. Each applied action commits
// its own Tx, so a crash loses at most the action in flight.
type Tx struct {
	tx        *sql.Tx
	mappingID string
}

// Begin opens a record transaction for a mapping
func (s *Store) Begin(ctx context.Context, mappingID string) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, mappingID: mappingID}, nil
}

// Upsert writes one record
func (t *Tx) Upsert(ctx context.Context, rec ItemRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO item_records (mapping_id, relative_path, is_dir, remote_id, etag, fingerprint, local_mtime, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mapping_id, relative_path) DO UPDATE SET
			is_dir=excluded.is_dir,
			remote_id=excluded.remote_id,
			etag=excluded.etag,
			fingerprint=excluded.fingerprint,
			local_mtime=excluded.local_mtime,
			size=excluded.size
	`, t.mappingID, rec.RelativePath, boolToInt(rec.IsDir), rec.RemoteID, rec.ETag, rec.Fingerprint, rec.LocalMTime, rec.Size)
	return err
}

// Delete removes one record
func (t *Tx) Delete(ctx context.Context, relativePath string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM item_records WHERE mapping_id = ? AND relative_path = ?
	`, t.mappingID, relativePath)
	return err
}

// Rename moves a record to a new path in place, preserving its metadata
func (t *Tx) Rename(ctx context.Context, fromPath, toPath string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE item_records SET relative_path = ? WHERE mapping_id = ? AND relative_path = ?
	`, toPath, t.mappingID, fromPath)
	return err
}

// RenameSubtree renames a record and everything tracked under it
func (t *Tx) RenameSubtree(ctx context.Context, fromPath, toPath string) error {
	if err := t.Rename(ctx, fromPath, toPath); err != nil {
		return err
	}
	// substr counts characters, so sqlite measures the prefix itself
	// rather than trusting a byte offset computed here
	_, err := t.tx.ExecContext(ctx, `
		UPDATE item_records
		SET relative_path = ? || substr(relative_path, length(?) + 1)
		WHERE mapping_id = ? AND relative_path LIKE ? || '/%'
	`, toPath, fromPath, t.mappingID, fromPath)
	return err
}

// DeleteSubtree removes a record and everything tracked under it
func (t *Tx) DeleteSubtree(ctx context.Context, relativePath string) error {
	if err := t.Delete(ctx, relativePath); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM item_records WHERE mapping_id = ? AND relative_path LIKE ? || '/%'
	`, t.mappingID, relativePath)
	return err
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

func scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (ItemRecord, error) {
	var rec ItemRecord
	var isDir int
	err := scanner.Scan(&rec.MappingID, &rec.RelativePath, &isDir, &rec.RemoteID, &rec.ETag,
		&rec.Fingerprint, &rec.LocalMTime, &rec.Size)
	if err != nil {
		return ItemRecord{}, err
	}
	rec.IsDir = isDir != 0
	return rec, nil
}
