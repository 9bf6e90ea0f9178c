package conflict

import (
	"testing"

	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
)

func bothModified(path string) reconcile.Conflict {
	return reconcile.Conflict{
		Path: path,
		Kind: reconcile.ConflictBothModified,
		Local: &reconcile.ChangeEvent{
			Side: reconcile.SideLocal, Kind: reconcile.Modified, Path: path, Fingerprint: "fp-local",
		},
		Remote: &reconcile.ChangeEvent{
			Side: reconcile.SideRemote, Kind: reconcile.Modified, Path: path, RemoteID: "r1", ETag: "e2",
		},
		Prev: &state.ItemRecord{RelativePath: path, RemoteID: "r1"},
	}
}

func TestLosingPathsKeepExtension(t *testing.T) {
	tests := []struct {
		in         string
		wantLocal  string
		wantRemote string
	}{
		{"report.docx", "report.conflict-local.docx", "report.conflict-remote.docx"},
		{"docs/report.docx", "docs/report.conflict-local.docx", "docs/report.conflict-remote.docx"},
		{"Makefile", "Makefile.conflict-local", "Makefile.conflict-remote"},
		{"archive.tar.gz", "archive.tar.conflict-local.gz", "archive.tar.conflict-remote.gz"},
	}

	for _, tt := range tests {
		if got := LosingLocalPath(tt.in); got != tt.wantLocal {
			t.Errorf("LosingLocalPath(%q) = %q, want %q", tt.in, got, tt.wantLocal)
		}
		if got := LosingRemotePath(tt.in); got != tt.wantRemote {
			t.Errorf("LosingRemotePath(%q) = %q, want %q", tt.in, got, tt.wantRemote)
		}
	}
}

func TestResolve_PreferLocal(t *testing.T) {
	actions, remaining := Resolve([]reconcile.Conflict{bothModified("c.txt")}, state.PolicyPreferLocal, nil)

	if len(remaining) != 0 {
		t.Fatalf("prefer-local leaves nothing unresolved, got %v", remaining)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %+v", actions)
	}
	if actions[0].Type != reconcile.ActionDownload || actions[0].Path != "c.conflict-remote.txt" {
		t.Errorf("losing remote version must land in a side file, got %+v", actions[0])
	}
	if actions[1].Type != reconcile.ActionUpload || actions[1].Path != "c.txt" {
		t.Errorf("local version must overwrite the remote, got %+v", actions[1])
	}
}

func TestResolve_PreferRemote(t *testing.T) {
	actions, remaining := Resolve([]reconcile.Conflict{bothModified("c.txt")}, state.PolicyPreferRemote, nil)

	if len(remaining) != 0 {
		t.Fatalf("prefer-remote leaves nothing unresolved, got %v", remaining)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %+v", actions)
	}
	if actions[0].Type != reconcile.ActionMoveLocal || actions[0].Path != "c.conflict-local.txt" || actions[0].FromPath != "c.txt" {
		t.Errorf("losing local version must move aside first, got %+v", actions[0])
	}
	if actions[1].Type != reconcile.ActionUpload || actions[1].Path != "c.conflict-local.txt" {
		t.Errorf("side file must be uploaded so both replicas hold it, got %+v", actions[1])
	}
	if actions[2].Type != reconcile.ActionDownload || actions[2].Path != "c.txt" {
		t.Errorf("remote version must replace the original path, got %+v", actions[2])
	}
}

func TestResolve_KeepBoth(t *testing.T) {
	actions, remaining := Resolve([]reconcile.Conflict{bothModified("c.txt")}, state.PolicyKeepBoth, nil)

	if len(remaining) != 0 {
		t.Fatalf("keep-both resolves both-modified, got %v", remaining)
	}
	want := []struct {
		typ  reconcile.ActionType
		path string
	}{
		{reconcile.ActionMoveLocal, "c.conflict-local.txt"},
		{reconcile.ActionMoveRemote, "c.conflict-remote.txt"},
		{reconcile.ActionUpload, "c.conflict-local.txt"},
		{reconcile.ActionDownload, "c.conflict-remote.txt"},
	}
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %+v", len(want), actions)
	}
	for i, w := range want {
		if actions[i].Type != w.typ || actions[i].Path != w.path {
			t.Errorf("action %d: got %s %s, want %s %s", i, actions[i].Type, actions[i].Path, w.typ, w.path)
		}
	}
}

func TestResolve_DeletionConflicts(t *testing.T) {
	prev := &state.ItemRecord{RelativePath: "d.txt", RemoteID: "r1"}
	localDeleted := reconcile.Conflict{
		Path:   "d.txt",
		Kind:   reconcile.ConflictLocalDeletedRemoteModified,
		Remote: &reconcile.ChangeEvent{Side: reconcile.SideRemote, Kind: reconcile.Modified, Path: "d.txt", RemoteID: "r1"},
		Prev:   prev,
	}
	remoteDeleted := reconcile.Conflict{
		Path:  "d.txt",
		Kind:  reconcile.ConflictRemoteDeletedLocalModified,
		Local: &reconcile.ChangeEvent{Side: reconcile.SideLocal, Kind: reconcile.Modified, Path: "d.txt", Fingerprint: "fp"},
		Prev:  prev,
	}

	tests := []struct {
		name     string
		conflict reconcile.Conflict
		policy   state.ConflictPolicy
		want     reconcile.ActionType
	}{
		{"prefer-local honors the local deletion", localDeleted, state.PolicyPreferLocal, reconcile.ActionDeleteRemote},
		{"prefer-local keeps the surviving local file", remoteDeleted, state.PolicyPreferLocal, reconcile.ActionUpload},
		{"prefer-remote keeps the surviving remote file", localDeleted, state.PolicyPreferRemote, reconcile.ActionDownload},
		{"prefer-remote honors the remote deletion", remoteDeleted, state.PolicyPreferRemote, reconcile.ActionDeleteLocal},
		{"keep-both keeps the surviving remote file", localDeleted, state.PolicyKeepBoth, reconcile.ActionDownload},
		{"keep-both keeps the surviving local file", remoteDeleted, state.PolicyKeepBoth, reconcile.ActionUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, remaining := Resolve([]reconcile.Conflict{tt.conflict}, tt.policy, nil)
			if len(remaining) != 0 {
				t.Fatalf("unexpected unresolved conflicts %v", remaining)
			}
			if len(actions) != 1 || actions[0].Type != tt.want {
				t.Errorf("got %+v, want single %s", actions, tt.want)
			}
		})
	}
}

func TestResolve_TypeMismatch(t *testing.T) {
	c := reconcile.Conflict{
		Path:   "thing",
		Kind:   reconcile.ConflictTypeMismatch,
		Local:  &reconcile.ChangeEvent{Side: reconcile.SideLocal, Kind: reconcile.Created, Path: "thing", IsDir: true},
		Remote: &reconcile.ChangeEvent{Side: reconcile.SideRemote, Kind: reconcile.Created, Path: "thing", RemoteID: "r1"},
	}

	actions, _ := Resolve([]reconcile.Conflict{c}, state.PolicyPreferLocal, nil)
	if len(actions) != 2 {
		t.Fatalf("expected delete then create, got %+v", actions)
	}
	if actions[0].Type != reconcile.ActionDeleteRemote {
		t.Errorf("remote file must go first, got %s", actions[0].Type)
	}
	if actions[1].Type != reconcile.ActionMkdirRemote {
		t.Errorf("local folder wins as a remote mkdir, got %s", actions[1].Type)
	}

	actions, _ = Resolve([]reconcile.Conflict{c}, state.PolicyPreferRemote, nil)
	if len(actions) != 2 {
		t.Fatalf("expected delete then create, got %+v", actions)
	}
	if actions[0].Type != reconcile.ActionDeleteLocal || actions[1].Type != reconcile.ActionDownload {
		t.Errorf("remote file wins by replacing the local folder, got %+v", actions)
	}

	// keep-both has no second version to keep for a type mismatch
	actions, remaining := Resolve([]reconcile.Conflict{c}, state.PolicyKeepBoth, nil)
	if len(actions) != 0 || len(remaining) != 1 {
		t.Errorf("type mismatch under keep-both stays unresolved, got %+v / %+v", actions, remaining)
	}
}

func TestResolve_AskHoldsConflicts(t *testing.T) {
	actions, remaining := Resolve([]reconcile.Conflict{bothModified("c.txt")}, state.PolicyAsk, nil)

	if len(actions) != 0 {
		t.Errorf("ask policy must not act on its own, got %+v", actions)
	}
	if len(remaining) != 1 {
		t.Errorf("conflict must be held for a decision, got %d", len(remaining))
	}
}

func TestResolve_DecisionOverridesPolicy(t *testing.T) {
	decisions := map[string]state.ConflictPolicy{"c.txt": state.PolicyPreferLocal}

	actions, remaining := Resolve([]reconcile.Conflict{bothModified("c.txt")}, state.PolicyAsk, decisions)

	if len(remaining) != 0 {
		t.Fatalf("a recorded decision resolves the conflict, got %v", remaining)
	}
	if len(actions) != 2 || actions[1].Type != reconcile.ActionUpload {
		t.Errorf("decision prefer-local must win, got %+v", actions)
	}
}
