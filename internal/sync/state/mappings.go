package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
)

// AddMapping registers a new mapping after checking that its local root
// does not nest inside an existing mapping's root or contain one.
func (s *Store) AddMapping(ctx context.Context, m Mapping) error {
	existing, err := s.ListMappings(ctx)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if rootsOverlap(m.LocalRoot, other.LocalRoot) {
			return ErrOverlappingMapping
		}
	}
	return s.UpsertMapping(ctx, m)
}

// rootsOverlap reports whether one root is equal to or nested under the other
func rootsOverlap(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a, b+sep) || strings.HasPrefix(b, a+sep)
}

// UpsertMapping inserts or replaces a mapping row
func (s *Store) UpsertMapping(ctx context.Context, m Mapping) error {
	patterns, err := json.Marshal(m.ExcludePatterns)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mappings (
			id, local_root, remote_id, remote_path, drive_id, direction, conflict_policy,
			exclude_patterns, enabled, delta_cursor, last_sync_time, failure_streak
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_root=excluded.local_root,
			remote_id=excluded.remote_id,
			remote_path=excluded.remote_path,
			drive_id=excluded.drive_id,
			direction=excluded.direction,
			conflict_policy=excluded.conflict_policy,
			exclude_patterns=excluded.exclude_patterns,
			enabled=excluded.enabled,
			delta_cursor=excluded.delta_cursor,
			last_sync_time=excluded.last_sync_time,
			failure_streak=excluded.failure_streak
	`, m.ID, m.LocalRoot, m.RemoteID, m.RemotePath, m.DriveID, string(m.Direction), string(m.ConflictPolicy),
		string(patterns), boolToInt(m.Enabled), m.DeltaCursor, m.LastSyncTime, m.FailureStreak)
	return err
}

// GetMapping fetches one mapping by ID
func (s *Store) GetMapping(ctx context.Context, id string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, local_root, remote_id, remote_path, drive_id, direction, conflict_policy,
		       exclude_patterns, enabled, delta_cursor, last_sync_time, failure_streak
		FROM mappings WHERE id = ?
	`, id)
	m, err := scanMapping(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMappings returns all mappings ordered by ID
func (s *Store) ListMappings(ctx context.Context) (mappings []Mapping, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, local_root, remote_id, remote_path, drive_id, direction, conflict_policy,
		       exclude_patterns, enabled, delta_cursor, last_sync_time, failure_streak
		FROM mappings ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

// RemoveMapping deletes a mapping and all of its per-path state
func (s *Store) RemoveMapping(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM item_records WHERE mapping_id = ?`,
		`DELETE FROM transfers WHERE mapping_id = ?`,
		`DELETE FROM pending_conflicts WHERE mapping_id = ?`,
		`DELETE FROM pending_deletes WHERE mapping_id = ?`,
		`DELETE FROM mappings WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SetCursor persists the delta cursor and pass completion time for a mapping
func (s *Store) SetCursor(ctx context.Context, id, cursor string, syncTime int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mappings SET delta_cursor = ?, last_sync_time = ? WHERE id = ?
	`, cursor, syncTime, id)
	return err
}

// SetFailureStreak records consecutive passes with transient failures
func (s *Store) SetFailureStreak(ctx context.Context, id string, streak int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mappings SET failure_streak = ? WHERE id = ?
	`, streak, id)
	return err
}

func scanMapping(scanner interface {
	Scan(dest ...interface{}) error
}) (Mapping, error) {
	var m Mapping
	var direction, policy, patterns string
	var enabled int
	err := scanner.Scan(&m.ID, &m.LocalRoot, &m.RemoteID, &m.RemotePath, &m.DriveID, &direction, &policy,
		&patterns, &enabled, &m.DeltaCursor, &m.LastSyncTime, &m.FailureStreak)
	if err != nil {
		return Mapping{}, err
	}
	m.Direction = Direction(direction)
	m.ConflictPolicy = ConflictPolicy(policy)
	m.Enabled = enabled != 0
	if patterns != "" {
		_ = json.Unmarshal([]byte(patterns), &m.ExcludePatterns)
	}
	return m, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
