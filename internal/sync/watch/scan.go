package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dl-alexandre/odsync/internal/sync/exclude"
	"github.com/dl-alexandre/odsync/internal/sync/fingerprint"
	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
)

// Scan walks the local root and diffs it against the prior records,
// producing change events. Unchanged files are recognized by size and
// mtime so their content is not rehashed. A matching deleted/created
// fingerprint pair collapses into a rename.
func Scan(ctx context.Context, root string, matcher *exclude.Matcher, prev map[string]state.ItemRecord) ([]reconcile.ChangeEvent, error) {
	var events []reconcile.ChangeEvent
	seen := make(map[string]struct{})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if matcher.IsExcluded(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and other irregular entries never sync
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		seen[rel] = struct{}{}

		if d.IsDir() {
			if _, ok := prev[rel]; !ok {
				events = append(events, reconcile.ChangeEvent{
					Side:  reconcile.SideLocal,
					Kind:  reconcile.Created,
					Path:  rel,
					IsDir: true,
				})
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		prevRec, known := prev[rel]
		if known && !prevRec.IsDir && info.Size() == prevRec.Size && info.ModTime().Unix() == prevRec.LocalMTime {
			return nil
		}

		digest, err := fingerprint.File(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		ev := reconcile.ChangeEvent{
			Side:        reconcile.SideLocal,
			Path:        rel,
			Fingerprint: digest,
			Size:        info.Size(),
			MTime:       info.ModTime().Unix(),
		}
		switch {
		case !known:
			ev.Kind = reconcile.Created
		case prevRec.IsDir:
			// A file now sits where a folder was tracked
			ev.Kind = reconcile.Created
		case digest == prevRec.Fingerprint:
			// Touched but identical content
			return nil
		default:
			ev.Kind = reconcile.Modified
			ev.RemoteID = prevRec.RemoteID
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for rel, rec := range prev {
		if _, ok := seen[rel]; ok {
			continue
		}
		events = append(events, reconcile.ChangeEvent{
			Side:     reconcile.SideLocal,
			Kind:     reconcile.Deleted,
			Path:     rel,
			IsDir:    rec.IsDir,
			RemoteID: rec.RemoteID,
		})
	}

	return collapseRenames(events, prev), nil
}

// collapseRenames pairs a deleted file with a created file carrying the
// same content fingerprint. Only unambiguous one-to-one matches collapse;
// anything else stays a delete plus a create.
func collapseRenames(events []reconcile.ChangeEvent, prev map[string]state.ItemRecord) []reconcile.ChangeEvent {
	createdByDigest := make(map[string][]int)
	deletedByDigest := make(map[string][]int)

	for i, ev := range events {
		if ev.IsDir {
			continue
		}
		switch ev.Kind {
		case reconcile.Created:
			if ev.Fingerprint != "" {
				createdByDigest[ev.Fingerprint] = append(createdByDigest[ev.Fingerprint], i)
			}
		case reconcile.Deleted:
			rec, ok := prev[ev.Path]
			if ok && rec.Fingerprint != "" {
				deletedByDigest[rec.Fingerprint] = append(deletedByDigest[rec.Fingerprint], i)
			}
		}
	}

	drop := make(map[int]struct{})
	var renames []reconcile.ChangeEvent

	for digest, created := range createdByDigest {
		deleted, ok := deletedByDigest[digest]
		if !ok || len(created) != 1 || len(deleted) != 1 {
			continue
		}
		createdEv := events[created[0]]
		deletedEv := events[deleted[0]]

		renames = append(renames, reconcile.ChangeEvent{
			Side:        reconcile.SideLocal,
			Kind:        reconcile.Renamed,
			Path:        createdEv.Path,
			FromPath:    deletedEv.Path,
			Fingerprint: digest,
			RemoteID:    deletedEv.RemoteID,
			Size:        createdEv.Size,
			MTime:       createdEv.MTime,
		})
		drop[created[0]] = struct{}{}
		drop[deleted[0]] = struct{}{}
	}

	if len(drop) == 0 {
		return events
	}

	kept := make([]reconcile.ChangeEvent, 0, len(events))
	for i, ev := range events {
		if _, skip := drop[i]; skip {
			continue
		}
		kept = append(kept, ev)
	}
	return append(kept, renames...)
}
