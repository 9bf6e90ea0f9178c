package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrStoreUnavailable wraps any failure to open or touch the database
var ErrStoreUnavailable = errors.New("state store unavailable")

// ErrMappingNotFound is returned when a mapping ID does not exist
var ErrMappingNotFound = errors.New("mapping not found")

// ErrConflictNotFound is returned when resolving a conflict that is not pending
var ErrConflictNotFound = errors.New("no pending conflict at path")

// ErrOverlappingMapping is returned when a new mapping's local root nests
// inside an existing mapping's root, or vice versa
var ErrOverlappingMapping = errors.New("local root overlaps an existing mapping")

// Store is the sqlite-backed persistence layer: mappings, per-path sync
// records, resumable transfers, pending conflicts, and gated deletions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mappings (
	id TEXT PRIMARY KEY,
	local_root TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	remote_path TEXT,
	drive_id TEXT,
	direction TEXT NOT NULL,
	conflict_policy TEXT NOT NULL,
	exclude_patterns TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	delta_cursor TEXT,
	last_sync_time INTEGER,
	failure_streak INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS item_records (
	mapping_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	is_dir INTEGER NOT NULL DEFAULT 0,
	remote_id TEXT,
	etag TEXT,
	fingerprint TEXT,
	local_mtime INTEGER,
	size INTEGER,
	PRIMARY KEY (mapping_id, relative_path),
	FOREIGN KEY (mapping_id) REFERENCES mappings(id)
);

CREATE INDEX IF NOT EXISTS idx_records_remote_id ON item_records(mapping_id, remote_id);
CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON item_records(mapping_id, fingerprint);

CREATE TABLE IF NOT EXISTS transfers (
	mapping_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	kind TEXT NOT NULL,
	resume_token TEXT,
	temp_path TEXT,
	PRIMARY KEY (mapping_id, relative_path, kind)
);

CREATE TABLE IF NOT EXISTS pending_conflicts (
	mapping_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	local_digest TEXT,
	remote_etag TEXT,
	resolution TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (mapping_id, relative_path)
);

CREATE TABLE IF NOT EXISTS pending_deletes (
	mapping_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	side TEXT NOT NULL,
	remote_id TEXT,
	is_dir INTEGER NOT NULL DEFAULT 0,
	requested_at INTEGER NOT NULL,
	PRIMARY KEY (mapping_id, relative_path, side)
);
`
