package delta

import (
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/sync/exclude"
	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	testhelpers "github.com/dl-alexandre/odsync/internal/testing"
	"github.com/dl-alexandre/odsync/internal/testing/mocks"
	"github.com/dl-alexandre/odsync/internal/types"
)

func testMapping() *state.Mapping {
	return &state.Mapping{
		ID:         "m1",
		RemoteID:   "root-id",
		RemotePath: "Sync/Docs",
		Direction:  state.DirectionBoth,
	}
}

func deltaFile(id, drivePath, etag string) graph.DeltaItem {
	return graph.DeltaItem{
		ID:           id,
		Name:         drivePath[strings.LastIndex(drivePath, "/")+1:],
		DrivePath:    drivePath,
		ETag:         etag,
		Size:         10,
		ModifiedTime: time.Unix(1700000000, 0),
	}
}

func collect(t *testing.T, remote graph.Remote, mapping *state.Mapping, prev map[string]state.ItemRecord) ([]reconcile.ChangeEvent, string) {
	t.Helper()
	events, cursor, err := Collect(testhelpers.TestContext(), remote, testhelpers.TestRequestContext(), mapping, prev, exclude.New(nil), logging.NewNoOpLogger())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return events, cursor
}

func TestCollect_CreationsAreRelativized(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(
		deltaFile("f1", "Sync/Docs/a.txt", "e1"),
		deltaFile("f2", "Sync/Docs/sub/b.txt", "e2"),
	)

	events, cursor := collect(t, remote, testMapping(), map[string]state.ItemRecord{})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].Path != "a.txt" || events[0].Kind != reconcile.Created {
		t.Errorf("unexpected event %+v", events[0])
	}
	if events[1].Path != "sub/b.txt" {
		t.Errorf("nested path not relativized: %+v", events[1])
	}
	if cursor == "" {
		t.Error("a drained feed must return a fresh cursor")
	}
}

func TestCollect_ItemsOutsideSubtree(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(
		deltaFile("f1", "Other/Folder/x.txt", "e1"),
		deltaFile("f2", "Other/moved.txt", "e2"),
	)
	prev := map[string]state.ItemRecord{
		"moved.txt": {MappingID: "m1", RelativePath: "moved.txt", RemoteID: "f2", ETag: "e1"},
	}

	events, _ := collect(t, remote, testMapping(), prev)

	if len(events) != 1 {
		t.Fatalf("untracked outside items are ignored, got %+v", events)
	}
	ev := events[0]
	if ev.Kind != reconcile.Deleted || ev.Path != "moved.txt" {
		t.Errorf("a tracked item moved outside must become a deletion, got %+v", ev)
	}
}

func TestCollect_DeletionResolvesPathFromRecords(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(
		graph.DeltaItem{ID: "f1", Deleted: true},
		graph.DeltaItem{ID: "unknown", Deleted: true},
	)
	prev := map[string]state.ItemRecord{
		"docs/a.txt": {MappingID: "m1", RelativePath: "docs/a.txt", RemoteID: "f1"},
	}

	events, _ := collect(t, remote, testMapping(), prev)

	if len(events) != 1 {
		t.Fatalf("deletions of untracked items are ignored, got %+v", events)
	}
	if events[0].Kind != reconcile.Deleted || events[0].Path != "docs/a.txt" {
		t.Errorf("unexpected deletion event %+v", events[0])
	}
}

func TestCollect_ModificationNeedsNewETag(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(
		deltaFile("f1", "Sync/Docs/same.txt", "e1"),
		deltaFile("f2", "Sync/Docs/changed.txt", "e9"),
	)
	prev := map[string]state.ItemRecord{
		"same.txt":    {MappingID: "m1", RelativePath: "same.txt", RemoteID: "f1", ETag: "e1"},
		"changed.txt": {MappingID: "m1", RelativePath: "changed.txt", RemoteID: "f2", ETag: "e2"},
	}

	events, _ := collect(t, remote, testMapping(), prev)

	if len(events) != 1 {
		t.Fatalf("unchanged etag must not produce an event, got %+v", events)
	}
	if events[0].Kind != reconcile.Modified || events[0].Path != "changed.txt" {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestCollect_RenameDetectedByPathChange(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(deltaFile("f1", "Sync/Docs/new-name.txt", "e1"))
	prev := map[string]state.ItemRecord{
		"old-name.txt": {MappingID: "m1", RelativePath: "old-name.txt", RemoteID: "f1", ETag: "e1"},
	}

	events, _ := collect(t, remote, testMapping(), prev)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	ev := events[0]
	if ev.Kind != reconcile.Renamed || ev.Path != "new-name.txt" || ev.FromPath != "old-name.txt" {
		t.Errorf("unexpected rename event %+v", ev)
	}
}

func TestCollect_LaterEntriesSupersede(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(deltaFile("f1", "Sync/Docs/a.txt", "e1"))
	remote.QueuePage(graph.DeltaItem{ID: "f1", Deleted: true})
	prev := map[string]state.ItemRecord{
		"a.txt": {MappingID: "m1", RelativePath: "a.txt", RemoteID: "f1", ETag: "e0"},
	}

	events, _ := collect(t, remote, testMapping(), prev)

	if remote.DeltaCalls != 2 {
		t.Fatalf("expected both pages drained, got %d calls", remote.DeltaCalls)
	}
	if len(events) != 1 {
		t.Fatalf("expected the later entry to supersede, got %+v", events)
	}
	if events[0].Kind != reconcile.Deleted {
		t.Errorf("final state is a deletion, got %+v", events[0])
	}
}

func TestCollect_SkipsRootItemAndExcluded(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.QueuePage(
		graph.DeltaItem{ID: "root-id", IsFolder: true, DrivePath: "Sync/Docs"},
		deltaFile("f1", "Sync/Docs/.DS_Store", "e1"),
		deltaFile("f2", "Sync/Docs/real.txt", "e2"),
	)

	events, _ := collect(t, remote, testMapping(), map[string]state.ItemRecord{})

	if len(events) != 1 || events[0].Path != "real.txt" {
		t.Errorf("root and excluded entries must not surface, got %+v", events)
	}
}

func TestCollect_ErrorKeepsNoCursor(t *testing.T) {
	remote := mocks.NewMockRemote()
	remote.DeltaErr = &types.GraphAPIError{StatusCode: 503, Reason: "serviceUnavailable", Message: "down"}

	_, cursor, err := Collect(testhelpers.TestContext(), remote, testhelpers.TestRequestContext(), testMapping(), nil, exclude.New(nil), logging.NewNoOpLogger())
	if err == nil {
		t.Fatal("expected the transport error to surface")
	}
	if cursor != "" {
		t.Errorf("a failed drain must not return a cursor, got %q", cursor)
	}
}
