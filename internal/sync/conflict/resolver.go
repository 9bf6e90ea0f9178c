package conflict

import (
	"path"
	"strings"

	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/utils"
)

// Resolve converts conflicts into actions under the mapping's policy.
// decisions carries per-path resolutions recorded for the ask policy;
// they take precedence over the mapping default. Conflicts with no
// applicable policy come back in remaining.
func Resolve(conflicts []reconcile.Conflict, policy state.ConflictPolicy, decisions map[string]state.ConflictPolicy) ([]reconcile.Action, []reconcile.Conflict) {
	var actions []reconcile.Action
	var remaining []reconcile.Conflict

	for _, c := range conflicts {
		effective := policy
		if d, ok := decisions[c.Path]; ok && d != "" {
			effective = d
		}

		switch effective {
		case state.PolicyPreferLocal:
			actions = append(actions, resolvePreferLocal(c)...)
		case state.PolicyPreferRemote:
			actions = append(actions, resolvePreferRemote(c)...)
		case state.PolicyKeepBoth:
			resolved, ok := resolveKeepBoth(c)
			if ok {
				actions = append(actions, resolved...)
			} else {
				remaining = append(remaining, c)
			}
		default:
			remaining = append(remaining, c)
		}
	}

	return actions, remaining
}

// resolvePreferLocal makes the local version canonical. The losing remote
// content is preserved as a side file next to the original so no bytes
// are lost.
func resolvePreferLocal(c reconcile.Conflict) []reconcile.Action {
	switch c.Kind {
	case reconcile.ConflictBothModified:
		return []reconcile.Action{
			{
				Type:   reconcile.ActionDownload,
				Path:   LosingRemotePath(c.Path),
				Remote: c.Remote,
			},
			{
				Type:   reconcile.ActionUpload,
				Path:   c.Path,
				Local:  c.Local,
				Remote: c.Remote,
				Prev:   c.Prev,
			},
		}
	case reconcile.ConflictLocalDeletedRemoteModified:
		return []reconcile.Action{{
			Type:   reconcile.ActionDeleteRemote,
			Path:   c.Path,
			Remote: c.Remote,
			Prev:   c.Prev,
		}}
	case reconcile.ConflictRemoteDeletedLocalModified:
		return []reconcile.Action{{
			Type:  reconcile.ActionUpload,
			Path:  c.Path,
			Local: c.Local,
			Prev:  c.Prev,
		}}
	case reconcile.ConflictTypeMismatch:
		create := reconcile.ActionUpload
		if c.Local != nil && c.Local.IsDir {
			create = reconcile.ActionMkdirRemote
		}
		return []reconcile.Action{
			{
				Type:   reconcile.ActionDeleteRemote,
				Path:   c.Path,
				Remote: c.Remote,
				Prev:   c.Prev,
			},
			{
				Type:  create,
				Path:  c.Path,
				Local: c.Local,
			},
		}
	}
	return nil
}

// resolvePreferRemote makes the remote version canonical, preserving the
// losing local content as a side file.
func resolvePreferRemote(c reconcile.Conflict) []reconcile.Action {
	switch c.Kind {
	case reconcile.ConflictBothModified:
		return []reconcile.Action{
			{
				Type:     reconcile.ActionMoveLocal,
				FromPath: c.Path,
				Path:     LosingLocalPath(c.Path),
				Local:    c.Local,
			},
			{
				Type:  reconcile.ActionUpload,
				Path:  LosingLocalPath(c.Path),
				Local: c.Local,
			},
			{
				Type:   reconcile.ActionDownload,
				Path:   c.Path,
				Local:  c.Local,
				Remote: c.Remote,
				Prev:   c.Prev,
			},
		}
	case reconcile.ConflictLocalDeletedRemoteModified:
		return []reconcile.Action{{
			Type:   reconcile.ActionDownload,
			Path:   c.Path,
			Remote: c.Remote,
			Prev:   c.Prev,
		}}
	case reconcile.ConflictRemoteDeletedLocalModified:
		return []reconcile.Action{{
			Type:  reconcile.ActionDeleteLocal,
			Path:  c.Path,
			Local: c.Local,
			Prev:  c.Prev,
		}}
	case reconcile.ConflictTypeMismatch:
		create := reconcile.ActionDownload
		if c.Remote != nil && c.Remote.IsDir {
			create = reconcile.ActionMkdirLocal
		}
		return []reconcile.Action{
			{
				Type:  reconcile.ActionDeleteLocal,
				Path:  c.Path,
				Local: c.Local,
				Prev:  c.Prev,
			},
			{
				Type:   create,
				Path:   c.Path,
				Remote: c.Remote,
			},
		}
	}
	return nil
}

// resolveKeepBoth renames both versions out of the way so each survives
// on both replicas. Only a true both-modified conflict has two versions
// to keep; deletion conflicts keep the surviving side.
func resolveKeepBoth(c reconcile.Conflict) ([]reconcile.Action, bool) {
	switch c.Kind {
	case reconcile.ConflictRemoteDeletedLocalModified:
		return []reconcile.Action{{
			Type:  reconcile.ActionUpload,
			Path:  c.Path,
			Local: c.Local,
			Prev:  c.Prev,
		}}, true
	case reconcile.ConflictLocalDeletedRemoteModified:
		return []reconcile.Action{{
			Type:   reconcile.ActionDownload,
			Path:   c.Path,
			Remote: c.Remote,
			Prev:   c.Prev,
		}}, true
	}

	if c.Kind != reconcile.ConflictBothModified || c.Local == nil || c.Remote == nil {
		return nil, false
	}

	localPath := LosingLocalPath(c.Path)
	remotePath := LosingRemotePath(c.Path)
	return []reconcile.Action{
		{
			Type:     reconcile.ActionMoveLocal,
			FromPath: c.Path,
			Path:     localPath,
			Local:    c.Local,
			Prev:     c.Prev,
		},
		{
			Type:     reconcile.ActionMoveRemote,
			FromPath: c.Path,
			Path:     remotePath,
			Remote:   c.Remote,
			Prev:     c.Prev,
		},
		{
			Type:  reconcile.ActionUpload,
			Path:  localPath,
			Local: c.Local,
		},
		{
			Type:   reconcile.ActionDownload,
			Path:   remotePath,
			Remote: c.Remote,
		},
	}, true
}

// LosingLocalPath is where a displaced local version lands,
// "report.conflict-local.docx" for "report.docx".
func LosingLocalPath(p string) string {
	return addSuffix(p, utils.ConflictLocalSuffix)
}

// LosingRemotePath is where a displaced remote version lands.
func LosingRemotePath(p string) string {
	return addSuffix(p, utils.ConflictRemoteSuffix)
}

func addSuffix(p string, suffix string) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	return base + suffix + ext
}
