package delta

import (
	"context"
	"strings"

	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/sync/exclude"
	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/types"
)

// Collect drains the remote delta feed into change events relative to the
// mapping root. It returns the cursor for the next pass only after every
// page was consumed; on error the caller keeps its old cursor so no
// change is skipped.
func Collect(ctx context.Context, remote graph.Remote, rc *types.RequestContext, mapping *state.Mapping, prev map[string]state.ItemRecord, matcher *exclude.Matcher, logger logging.Logger) ([]reconcile.ChangeEvent, string, error) {
	byRemoteID := make(map[string]state.ItemRecord, len(prev))
	for _, rec := range prev {
		if rec.RemoteID != "" {
			byRemoteID[rec.RemoteID] = rec
		}
	}

	rootPrefix := strings.Trim(mapping.RemotePath, "/")

	// Later delta entries supersede earlier ones for the same item
	eventsByID := make(map[string]reconcile.ChangeEvent)
	var order []string

	cursor := mapping.DeltaCursor
	pages := 0
	for {
		page, err := remote.ListDelta(ctx, rc, mapping.RemoteID, cursor)
		if err != nil {
			return nil, "", err
		}
		pages++

		for _, item := range page.Items {
			if item.ID == mapping.RemoteID {
				continue
			}

			ev, ok := itemEvent(item, rootPrefix, byRemoteID, matcher)
			if !ok {
				continue
			}
			if _, seen := eventsByID[item.ID]; !seen {
				order = append(order, item.ID)
			}
			eventsByID[item.ID] = ev
		}

		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	events := make([]reconcile.ChangeEvent, 0, len(order))
	for _, id := range order {
		events = append(events, eventsByID[id])
	}

	logger.Debug("Remote delta collected",
		logging.F("mapping", mapping.ID),
		logging.F("pages", pages),
		logging.F("events", len(events)),
	)

	return events, cursor, nil
}

// itemEvent turns one delta entry into a change event, or nothing when
// the entry is outside the mapping, excluded, or unchanged.
func itemEvent(item graph.DeltaItem, rootPrefix string, byRemoteID map[string]state.ItemRecord, matcher *exclude.Matcher) (reconcile.ChangeEvent, bool) {
	prevRec, known := byRemoteID[item.ID]

	if item.Deleted {
		// Deletions carry no path; only items we track can be resolved
		if !known {
			return reconcile.ChangeEvent{}, false
		}
		return reconcile.ChangeEvent{
			Side:     reconcile.SideRemote,
			Kind:     reconcile.Deleted,
			Path:     prevRec.RelativePath,
			IsDir:    prevRec.IsDir,
			RemoteID: item.ID,
		}, true
	}

	rel, inside := relativize(item.DrivePath, rootPrefix)
	if !inside {
		// Moved out of the mapped subtree: treat as a deletion
		if known {
			return reconcile.ChangeEvent{
				Side:     reconcile.SideRemote,
				Kind:     reconcile.Deleted,
				Path:     prevRec.RelativePath,
				IsDir:    prevRec.IsDir,
				RemoteID: item.ID,
			}, true
		}
		return reconcile.ChangeEvent{}, false
	}

	if matcher.IsExcluded(rel, item.IsFolder) {
		return reconcile.ChangeEvent{}, false
	}

	ev := reconcile.ChangeEvent{
		Side:     reconcile.SideRemote,
		Path:     rel,
		IsDir:    item.IsFolder,
		ETag:     item.ETag,
		SHA256:   item.SHA256,
		RemoteID: item.ID,
		Size:     item.Size,
		MTime:    item.ModifiedTime.Unix(),
	}

	switch {
	case !known:
		ev.Kind = reconcile.Created
	case prevRec.RelativePath != rel:
		ev.Kind = reconcile.Renamed
		ev.FromPath = prevRec.RelativePath
	case item.IsFolder:
		return reconcile.ChangeEvent{}, false
	case item.ETag != prevRec.ETag:
		ev.Kind = reconcile.Modified
	default:
		return reconcile.ChangeEvent{}, false
	}

	return ev, true
}

// relativize strips the mapping's drive-root prefix from a drive path
func relativize(drivePath, rootPrefix string) (string, bool) {
	if rootPrefix == "" {
		return drivePath, drivePath != ""
	}
	if drivePath == rootPrefix {
		return "", false
	}
	if strings.HasPrefix(drivePath, rootPrefix+"/") {
		return strings.TrimPrefix(drivePath, rootPrefix+"/"), true
	}
	return "", false
}
