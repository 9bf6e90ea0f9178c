package reconcile

import (
	"sort"
	"strings"

	"github.com/dl-alexandre/odsync/internal/sync/state"
)

// Compute derives the action plan for one pass from the two change
// streams and the prior records. Both event slices must already be
// relative to the mapping roots and filtered through the exclusion
// matcher.
func Compute(local, remote []ChangeEvent, prev map[string]state.ItemRecord, opts Options) Plan {
	var actions []Action
	var conflicts []Conflict

	localByPath := make(map[string]ChangeEvent)
	remoteByPath := make(map[string]ChangeEvent)

	// Renames become move actions when the other side left both ends of
	// the rename untouched; otherwise they decompose into delete+create
	// and go through the table like everything else.
	moves, localRest := splitRenames(local, indexPaths(remote))
	for _, mv := range moves {
		actions = append(actions, Action{
			Type:     ActionMoveRemote,
			Path:     mv.Path,
			FromPath: mv.FromPath,
			Local:    ptr(mv),
			Prev:     prevPtr(prev, mv.FromPath),
		})
	}
	remoteMoves, remoteRest := splitRenames(remote, indexPaths(local))
	for _, mv := range remoteMoves {
		actions = append(actions, Action{
			Type:     ActionMoveLocal,
			Path:     mv.Path,
			FromPath: mv.FromPath,
			Remote:   ptr(mv),
			Prev:     prevPtr(prev, mv.FromPath),
		})
	}

	for _, ev := range localRest {
		localByPath[ev.Path] = ev
	}
	for _, ev := range remoteRest {
		remoteByPath[ev.Path] = ev
	}

	paths := make(map[string]struct{})
	for p := range localByPath {
		paths[p] = struct{}{}
	}
	for p := range remoteByPath {
		paths[p] = struct{}{}
	}
	var allPaths []string
	for p := range paths {
		allPaths = append(allPaths, p)
	}
	sort.Strings(allPaths)

	for _, path := range allPaths {
		localEv, localOK := localByPath[path]
		remoteEv, remoteOK := remoteByPath[path]
		prevRec := prevPtr(prev, path)

		localPtr := evPtr(localOK, localEv)
		remotePtr := evPtr(remoteOK, remoteEv)

		switch {
		case localOK && remoteOK:
			action, conflict := resolveBoth(path, localEv, remoteEv, prevRec)
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
			} else if action != nil {
				actions = append(actions, *action)
			}

		case localOK:
			switch localEv.Kind {
			case Deleted:
				if prevRec == nil {
					continue
				}
				actions = append(actions, Action{
					Type: ActionDeleteRemote,
					Path: path,
					Local: localPtr,
					Prev: prevRec,
				})
			default:
				t := ActionUpload
				if localEv.IsDir {
					t = ActionMkdirRemote
				}
				actions = append(actions, Action{
					Type:  t,
					Path:  path,
					Local: localPtr,
					Prev:  prevRec,
				})
			}

		case remoteOK:
			switch remoteEv.Kind {
			case Deleted:
				if prevRec == nil {
					continue
				}
				actions = append(actions, Action{
					Type:   ActionDeleteLocal,
					Path:   path,
					Remote: remotePtr,
					Prev:   prevRec,
				})
			default:
				t := ActionDownload
				if remoteEv.IsDir {
					t = ActionMkdirLocal
				}
				actions = append(actions, Action{
					Type:   t,
					Path:   path,
					Remote: remotePtr,
					Prev:   prevRec,
				})
			}
		}
	}

	// One-way mappings have a designated source; its side wins every
	// mergeable conflict outright.
	if opts.Direction != state.DirectionBoth && opts.Direction != "" {
		actions, conflicts = resolveOneWay(actions, conflicts, opts.Direction)
	}

	actions = filterForDirection(actions, opts.Direction)
	actions = orderActions(actions)

	plan := Plan{Actions: actions, Conflicts: conflicts}
	applyDeleteGate(&plan, opts)
	return plan
}

// resolveBoth handles a path both sides touched in the same pass
func resolveBoth(path string, localEv, remoteEv ChangeEvent, prevRec *state.ItemRecord) (*Action, *Conflict) {
	localPtr := &localEv
	remotePtr := &remoteEv

	bothDeleted := localEv.Kind == Deleted && remoteEv.Kind == Deleted
	if bothDeleted {
		if prevRec == nil {
			return nil, nil
		}
		// Both replicas already agree; only the record needs to go
		return &Action{Type: ActionRecord, Path: path, Local: localPtr, Remote: remotePtr, Prev: prevRec}, nil
	}

	if localEv.Kind == Deleted {
		return nil, &Conflict{
			Path: path, Kind: ConflictLocalDeletedRemoteModified,
			Remote: remotePtr, Prev: prevRec,
		}
	}
	if remoteEv.Kind == Deleted {
		return nil, &Conflict{
			Path: path, Kind: ConflictRemoteDeletedLocalModified,
			Local: localPtr, Prev: prevRec,
		}
	}

	if localEv.IsDir != remoteEv.IsDir {
		return nil, &Conflict{
			Path: path, Kind: ConflictTypeMismatch,
			Local: localPtr, Remote: remotePtr, Prev: prevRec,
		}
	}

	if localEv.IsDir {
		// Both created or touched the same folder: nothing to transfer
		return &Action{Type: ActionRecord, Path: path, Local: localPtr, Remote: remotePtr, Prev: prevRec}, nil
	}

	return nil, &Conflict{
		Path: path, Kind: ConflictBothModified,
		Local: localPtr, Remote: remotePtr, Prev: prevRec,
	}
}

// splitRenames separates rename events that can become moves from those
// that must decompose. A rename stays a move only when the other side has
// no event at either end of it.
func splitRenames(events []ChangeEvent, otherPaths map[string]struct{}) (moves, rest []ChangeEvent) {
	for _, ev := range events {
		if ev.Kind != Renamed {
			rest = append(rest, ev)
			continue
		}
		_, fromBusy := otherPaths[ev.FromPath]
		_, toBusy := otherPaths[ev.Path]
		if fromBusy || toBusy {
			del := ChangeEvent{Side: ev.Side, Kind: Deleted, Path: ev.FromPath, IsDir: ev.IsDir, RemoteID: ev.RemoteID}
			create := ev
			create.Kind = Created
			create.FromPath = ""
			rest = append(rest, del, create)
			continue
		}
		moves = append(moves, ev)
	}
	return moves, rest
}

// resolveOneWay converts mergeable conflicts into source-side wins.
// Type mismatches still need a human.
func resolveOneWay(actions []Action, conflicts []Conflict, dir state.Direction) ([]Action, []Conflict) {
	remaining := conflicts[:0]
	for _, c := range conflicts {
		if c.Kind == ConflictTypeMismatch {
			remaining = append(remaining, c)
			continue
		}
		switch dir {
		case state.DirectionUpload:
			if c.Local != nil {
				actions = append(actions, Action{Type: ActionUpload, Path: c.Path, Local: c.Local, Prev: c.Prev})
			} else {
				actions = append(actions, Action{Type: ActionDeleteRemote, Path: c.Path, Remote: c.Remote, Prev: c.Prev})
			}
		case state.DirectionDownload:
			if c.Remote != nil {
				actions = append(actions, Action{Type: ActionDownload, Path: c.Path, Remote: c.Remote, Prev: c.Prev})
			} else {
				actions = append(actions, Action{Type: ActionDeleteLocal, Path: c.Path, Local: c.Local, Prev: c.Prev})
			}
		}
	}
	return actions, remaining
}

func filterForDirection(actions []Action, dir state.Direction) []Action {
	if dir == state.DirectionBoth || dir == "" {
		return actions
	}
	filtered := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == ActionRecord {
			filtered = append(filtered, a)
			continue
		}
		switch dir {
		case state.DirectionUpload:
			switch a.Type {
			case ActionUpload, ActionMkdirRemote, ActionDeleteRemote, ActionMoveRemote:
				filtered = append(filtered, a)
			}
		case state.DirectionDownload:
			switch a.Type {
			case ActionDownload, ActionMkdirLocal, ActionDeleteLocal, ActionMoveLocal:
				filtered = append(filtered, a)
			}
		}
	}
	return filtered
}

// phase buckets actions so parents exist before children and deletions
// run last, children before parents.
func phase(t ActionType) int {
	switch t {
	case ActionMkdirLocal, ActionMkdirRemote:
		return 0
	case ActionMoveLocal, ActionMoveRemote:
		return 1
	case ActionUpload, ActionDownload:
		return 2
	case ActionRecord:
		return 3
	case ActionDeleteLocal, ActionDeleteRemote:
		return 4
	}
	return 2
}

func depth(path string) int {
	return strings.Count(path, "/")
}

func orderActions(actions []Action) []Action {
	sort.SliceStable(actions, func(i, j int) bool {
		pi, pj := phase(actions[i].Type), phase(actions[j].Type)
		if pi != pj {
			return pi < pj
		}
		di, dj := depth(actions[i].Path), depth(actions[j].Path)
		if pi == 4 {
			// Deletions: deepest first
			if di != dj {
				return di > dj
			}
		} else if di != dj {
			return di < dj
		}
		return actions[i].Path < actions[j].Path
	})
	return actions
}

// applyDeleteGate withholds deletions when too large a share of tracked
// paths would disappear in a single pass.
func applyDeleteGate(plan *Plan, opts Options) {
	if opts.DeletesAcknowledged || opts.GateThreshold <= 0 {
		return
	}
	if opts.TrackedCount < opts.GateMinTracked {
		return
	}

	var deletes int
	for _, a := range plan.Actions {
		if a.Type == ActionDeleteLocal || a.Type == ActionDeleteRemote {
			deletes++
		}
	}
	// The gate arms only past the threshold, not at it
	if float64(deletes) <= opts.GateThreshold*float64(opts.TrackedCount) {
		return
	}

	kept := plan.Actions[:0]
	for _, a := range plan.Actions {
		if a.Type == ActionDeleteLocal || a.Type == ActionDeleteRemote {
			plan.PendingDeletes = append(plan.PendingDeletes, a)
			continue
		}
		kept = append(kept, a)
	}
	plan.Actions = kept
	plan.GateTriggered = true
}

func indexPaths(events []ChangeEvent) map[string]struct{} {
	set := make(map[string]struct{}, len(events))
	for _, ev := range events {
		set[ev.Path] = struct{}{}
		if ev.FromPath != "" {
			set[ev.FromPath] = struct{}{}
		}
	}
	return set
}

func ptr(ev ChangeEvent) *ChangeEvent {
	e := ev
	return &e
}

func evPtr(ok bool, ev ChangeEvent) *ChangeEvent {
	if !ok {
		return nil
	}
	e := ev
	return &e
}

func prevPtr(prev map[string]state.ItemRecord, path string) *state.ItemRecord {
	rec, ok := prev[path]
	if !ok {
		return nil
	}
	r := rec
	return &r
}
