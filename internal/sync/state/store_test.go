package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMapping(id, localRoot string) Mapping {
	return Mapping{
		ID:             id,
		LocalRoot:      localRoot,
		RemoteID:       "remote-" + id,
		RemotePath:     "Sync/" + id,
		Direction:      DirectionBoth,
		ConflictPolicy: PolicyKeepBoth,
		Enabled:        true,
	}
}

func TestStore_OpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parent dirs failed: %v", err)
	}
	_ = store.Close()
}

func TestStore_MappingRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMapping("m1", "/data/docs")
	m.ExcludePatterns = []string{"*.tmp", ".git/"}
	m.DeltaCursor = "cursor-42"
	m.LastSyncTime = 1700000000
	m.FailureStreak = 2

	if err := store.AddMapping(ctx, m); err != nil {
		t.Fatalf("AddMapping failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if got.LocalRoot != m.LocalRoot || got.RemoteID != m.RemoteID || got.RemotePath != m.RemotePath {
		t.Errorf("mapping fields lost: %+v", got)
	}
	if got.Direction != DirectionBoth || got.ConflictPolicy != PolicyKeepBoth {
		t.Errorf("policy fields lost: %+v", got)
	}
	if len(got.ExcludePatterns) != 2 || got.ExcludePatterns[0] != "*.tmp" {
		t.Errorf("exclude patterns lost: %v", got.ExcludePatterns)
	}
	if got.DeltaCursor != "cursor-42" || got.FailureStreak != 2 {
		t.Errorf("cursor bookkeeping lost: %+v", got)
	}
	if !got.Enabled {
		t.Error("enabled flag lost")
	}
}

func TestStore_GetMappingNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetMapping(context.Background(), "nope")
	if !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestStore_AddMappingRejectsOverlap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddMapping(ctx, testMapping("m1", "/data/docs")); err != nil {
		t.Fatalf("first AddMapping failed: %v", err)
	}

	tests := []struct {
		name string
		root string
		want bool
	}{
		{"identical root", "/data/docs", true},
		{"nested under existing", "/data/docs/sub", true},
		{"contains existing", "/data", true},
		{"sibling", "/data/music", false},
		{"shared name prefix only", "/data/docs2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.AddMapping(ctx, testMapping("x-"+tt.name, tt.root))
			if tt.want && !errors.Is(err, ErrOverlappingMapping) {
				t.Errorf("root %q: expected overlap rejection, got %v", tt.root, err)
			}
			if !tt.want && err != nil {
				t.Errorf("root %q: expected acceptance, got %v", tt.root, err)
			}
		})
	}
}

func TestStore_SetCursorAndStreak(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddMapping(ctx, testMapping("m1", "/data/docs")); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCursor(ctx, "m1", "cursor-7", 1700000123); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}
	if err := store.SetFailureStreak(ctx, "m1", 3); err != nil {
		t.Fatalf("SetFailureStreak failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DeltaCursor != "cursor-7" || got.LastSyncTime != 1700000123 || got.FailureStreak != 3 {
		t.Errorf("unexpected mapping state %+v", got)
	}
}

func TestStore_RemoveMappingCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddMapping(ctx, testMapping("m1", "/data/docs")); err != nil {
		t.Fatal(err)
	}
	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: "a.txt", RemoteID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTransfer(ctx, Transfer{MappingID: "m1", RelativePath: "a.txt", Kind: "upload", ResumeToken: "tok"}); err != nil {
		t.Fatal(err)
	}

	if err := store.RemoveMapping(ctx, "m1"); err != nil {
		t.Fatalf("RemoveMapping failed: %v", err)
	}

	if _, err := store.GetMapping(ctx, "m1"); !errors.Is(err, ErrMappingNotFound) {
		t.Error("mapping row survived removal")
	}
	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("item records survived removal: %v", records)
	}
	tr, err := store.LoadTransfer(ctx, "m1", "a.txt", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if tr != nil {
		t.Error("transfer row survived removal")
	}
}

func TestStore_RecordTxRollback(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("rolled-back record is visible: %v", records)
	}
}

func TestStore_RecordsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	rec := ItemRecord{
		MappingID:    "m1",
		RelativePath: "docs/a.txt",
		RemoteID:     "r1",
		ETag:         "e1",
		Fingerprint:  "fp1",
		LocalMTime:   1700000000,
		Size:         42,
	}
	if err := tx.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: "docs", IsDir: true, RemoteID: "r0"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	got := records["docs/a.txt"]
	if got != rec {
		t.Errorf("record mismatch: got %+v, want %+v", got, rec)
	}
	if !records["docs"].IsDir {
		t.Error("folder record lost IsDir")
	}

	byID, err := store.GetRecordByRemoteID(ctx, "m1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if byID == nil || byID.RelativePath != "docs/a.txt" {
		t.Errorf("remote ID lookup failed: %+v", byID)
	}
	missing, err := store.GetRecordByRemoteID(ctx, "m1", "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("unknown remote ID must return nil, got %+v", missing)
	}
}

func TestStore_RenameSubtree(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"old", "old/a.txt", "old/sub", "old/sub/b.txt", "older/c.txt"} {
		if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: p}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.RenameSubtree(ctx, "old", "new"); err != nil {
		t.Fatalf("RenameSubtree failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"new", "new/a.txt", "new/sub", "new/sub/b.txt", "older/c.txt"} {
		if _, ok := records[want]; !ok {
			t.Errorf("missing %q after rename, have %v", want, keys(records))
		}
	}
	if _, ok := records["old/a.txt"]; ok {
		t.Error("old path survived rename")
	}
}

func TestStore_RenameSubtree_MultibyteFolder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"日記", "日記/a.txt", "日記/b.txt"} {
		if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: p}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.RenameSubtree(ctx, "日記", "journal"); err != nil {
		t.Fatalf("RenameSubtree failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"journal", "journal/a.txt", "journal/b.txt"} {
		if _, ok := records[want]; !ok {
			t.Errorf("missing %q after rename, have %v", want, keys(records))
		}
	}
}

func TestStore_DeleteSubtree(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"gone", "gone/a.txt", "gone/sub/b.txt", "goner.txt"} {
		if err := tx.Upsert(ctx, ItemRecord{MappingID: "m1", RelativePath: p}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.DeleteSubtree(ctx, "gone"); err != nil {
		t.Fatalf("DeleteSubtree failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	records, err := store.LoadRecords(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the sibling to survive, got %v", keys(records))
	}
	if _, ok := records["goner.txt"]; !ok {
		t.Error("sibling with a shared name prefix was deleted")
	}
}

func TestStore_TransferRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tr := Transfer{
		MappingID:    "m1",
		RelativePath: "big.bin",
		Kind:         "upload",
		ResumeToken:  "https://upload.example/session/1",
	}
	if err := store.SaveTransfer(ctx, tr); err != nil {
		t.Fatalf("SaveTransfer failed: %v", err)
	}

	got, err := store.LoadTransfer(ctx, "m1", "big.bin", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ResumeToken != tr.ResumeToken {
		t.Errorf("transfer lost: %+v", got)
	}

	// Saving again replaces the token
	tr.ResumeToken = "https://upload.example/session/2"
	if err := store.SaveTransfer(ctx, tr); err != nil {
		t.Fatal(err)
	}
	got, err = store.LoadTransfer(ctx, "m1", "big.bin", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got.ResumeToken != tr.ResumeToken {
		t.Errorf("transfer upsert did not replace token: %+v", got)
	}

	if err := store.ClearTransfer(ctx, "m1", "big.bin", "upload"); err != nil {
		t.Fatal(err)
	}
	got, err = store.LoadTransfer(ctx, "m1", "big.bin", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("cleared transfer still present: %+v", got)
	}
}

func TestStore_PendingConflictFlow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := PendingConflict{
		MappingID:    "m1",
		RelativePath: "c.txt",
		DetectedAt:   1700000000,
		LocalDigest:  "fp1",
		RemoteETag:   "e1",
	}
	if err := store.SavePendingConflict(ctx, c); err != nil {
		t.Fatalf("SavePendingConflict failed: %v", err)
	}

	if err := store.SetConflictResolution(ctx, "m1", "c.txt", PolicyPreferLocal); err != nil {
		t.Fatalf("SetConflictResolution failed: %v", err)
	}

	// Re-detection refreshes digests but must keep the decision
	c.DetectedAt = 1700000100
	c.LocalDigest = "fp2"
	if err := store.SavePendingConflict(ctx, c); err != nil {
		t.Fatal(err)
	}

	conflicts, err := store.ListPendingConflicts(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	got := conflicts[0]
	if got.LocalDigest != "fp2" || got.DetectedAt != 1700000100 {
		t.Errorf("re-detection did not refresh digests: %+v", got)
	}
	if got.Resolution != PolicyPreferLocal {
		t.Errorf("re-detection dropped the recorded decision: %+v", got)
	}

	if err := store.ClearPendingConflict(ctx, "m1", "c.txt"); err != nil {
		t.Fatal(err)
	}
	conflicts, err = store.ListPendingConflicts(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("cleared conflict still listed: %v", conflicts)
	}
}

func TestStore_SetConflictResolutionUnknownPath(t *testing.T) {
	store := openTestStore(t)

	err := store.SetConflictResolution(context.Background(), "m1", "nope.txt", PolicyPreferLocal)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("expected ErrConflictNotFound, got %v", err)
	}
}

func TestStore_PendingDeletesReplaceAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []PendingDelete{
		{MappingID: "m1", RelativePath: "a.txt", Side: "local", RequestedAt: 100},
		{MappingID: "m1", RelativePath: "b.txt", Side: "remote", RemoteID: "r2", RequestedAt: 100},
	}
	if err := store.SavePendingDeletes(ctx, "m1", first); err != nil {
		t.Fatalf("SavePendingDeletes failed: %v", err)
	}

	second := []PendingDelete{
		{MappingID: "m1", RelativePath: "c", Side: "remote", RemoteID: "r3", IsDir: true, RequestedAt: 200},
	}
	if err := store.SavePendingDeletes(ctx, "m1", second); err != nil {
		t.Fatal(err)
	}

	deletes, err := store.ListPendingDeletes(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deletes) != 1 {
		t.Fatalf("save must replace the previous set, got %v", deletes)
	}
	if deletes[0].RelativePath != "c" || !deletes[0].IsDir || deletes[0].Side != "remote" {
		t.Errorf("unexpected pending delete %+v", deletes[0])
	}

	if err := store.ClearPendingDeletes(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	deletes, err = store.ListPendingDeletes(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deletes) != 0 {
		t.Errorf("cleared deletes still listed: %v", deletes)
	}
}

func keys(m map[string]ItemRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
