package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	apierrors "github.com/dl-alexandre/odsync/internal/errors"

	"github.com/dl-alexandre/odsync/internal/auth"
	"github.com/dl-alexandre/odsync/internal/config"
	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/sync/conflict"
	"github.com/dl-alexandre/odsync/internal/sync/delta"
	"github.com/dl-alexandre/odsync/internal/sync/exclude"
	"github.com/dl-alexandre/odsync/internal/sync/executor"
	"github.com/dl-alexandre/odsync/internal/sync/fingerprint"
	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/sync/watch"
	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
)

// ErrPassInProgress is returned when a pass is requested for a mapping
// that is already mid-pass; the running pass covers the request.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Engine orchestrates passes over mappings: collect changes on both
// sides, reconcile, resolve conflicts, execute, and commit the cursor.
type Engine struct {
	store  *state.Store
	remote graph.Remote
	auth   *auth.Manager
	cfg    *config.Config
	logger logging.Logger

	locks gosync.Map
}

// Options tunes one pass
type Options struct {
	DryRun bool

	// DeletesAcknowledged lets a pass execute deletions the mass-deletion
	// gate would otherwise withhold
	DeletesAcknowledged bool
}

// Result describes the outcome of one pass
type Result struct {
	MappingID      string
	Summary        executor.Summary
	Unresolved     []reconcile.Conflict
	PendingDeletes int
	GateTriggered  bool
	AuthRequired   bool
	Degraded       bool
	DryRun         bool
}

// NewEngine wires an engine from its dependencies
func NewEngine(store *state.Store, remote graph.Remote, authMgr *auth.Manager, cfg *config.Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Engine{
		store:  store,
		remote: remote,
		auth:   authMgr,
		cfg:    cfg,
		logger: logger,
	}
}

// Store exposes the persistence layer for management commands
func (e *Engine) Store() *state.Store {
	return e.store
}

// RunPass executes one full pass for a mapping. Concurrent requests for
// the same mapping coalesce: the second caller gets ErrPassInProgress
// while the first pass covers both.
func (e *Engine) RunPass(ctx context.Context, mappingID string, opts Options) (Result, error) {
	lockAny, _ := e.locks.LoadOrStore(mappingID, &gosync.Mutex{})
	lock := lockAny.(*gosync.Mutex)
	if !lock.TryLock() {
		return Result{MappingID: mappingID}, ErrPassInProgress
	}
	defer lock.Unlock()

	result := Result{MappingID: mappingID, DryRun: opts.DryRun}

	mapping, err := e.store.GetMapping(ctx, mappingID)
	if err != nil {
		return result, err
	}
	if !mapping.Enabled {
		return result, utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
			"mapping is disabled").WithContext("mapping", mappingID).Build())
	}

	if e.auth != nil && !e.auth.IsAuthenticated() {
		result.AuthRequired = true
		return result, utils.NewAppError(utils.NewSyncError(utils.ErrCodeAuthRequired,
			"not signed in, run 'odsync auth login'").Build())
	}

	if info, statErr := os.Stat(mapping.LocalRoot); statErr != nil || !info.IsDir() {
		// A vanished root must never be mirrored as a mass deletion
		return result, utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidPath,
			"local root missing or not a directory").
			WithContext("mapping", mappingID).
			WithContext("path", mapping.LocalRoot).
			Build())
	}

	prev, err := e.store.LoadRecords(ctx, mappingID)
	if err != nil {
		return result, err
	}

	matcher := exclude.New(mapping.ExcludePatterns)

	localEvents, err := watch.Scan(ctx, mapping.LocalRoot, matcher, prev)
	if err != nil {
		return result, err
	}

	profile := e.cfg.DefaultProfile
	rc := graph.NewRequestContext(profile, mappingID, types.RequestTypeDelta)
	logger := e.logger.WithTraceID(rc.TraceID)

	remoteEvents, newCursor, err := delta.Collect(ctx, e.remote, rc, mapping, prev, matcher, logger)
	if err != nil {
		if apierrors.IsUnauthorized(err) {
			result.AuthRequired = true
		}
		return result, err
	}

	logger.Info("Pass reconciling",
		logging.F("mapping", mappingID),
		logging.F("localChanges", len(localEvents)),
		logging.F("remoteChanges", len(remoteEvents)),
	)

	plan := reconcile.Compute(localEvents, remoteEvents, prev, reconcile.Options{
		Direction:           mapping.Direction,
		GateThreshold:       e.cfg.DeleteGateThreshold,
		GateMinTracked:      e.cfg.DeleteGateMinTracked,
		TrackedCount:        len(prev),
		DeletesAcknowledged: opts.DeletesAcknowledged,
	})

	dropConvergedConflicts(mapping.LocalRoot, &plan)

	decisions, err := e.loadDecisions(ctx, mappingID)
	if err != nil {
		return result, err
	}
	resolved, remaining := conflict.Resolve(plan.Conflicts, mapping.ConflictPolicy, decisions)
	actions := append(plan.Actions, resolved...)

	result.Unresolved = remaining
	result.GateTriggered = plan.GateTriggered
	result.PendingDeletes = len(plan.PendingDeletes)

	if opts.DryRun {
		for _, a := range actions {
			countForSummary(&result.Summary, a.Type)
		}
		return result, nil
	}

	if err := e.persistConflictState(ctx, mappingID, remaining, decisions); err != nil {
		return result, err
	}
	if plan.GateTriggered {
		if err := e.persistPendingDeletes(ctx, mappingID, plan.PendingDeletes); err != nil {
			return result, err
		}
		logger.Warn("Mass-deletion gate triggered, deletions withheld",
			logging.F("mapping", mappingID),
			logging.F("withheld", len(plan.PendingDeletes)),
		)
	}

	remoteFolders := buildRemoteFolders(mapping, prev)
	exec := executor.New(e.remote, e.store, e.logger)
	summary, err := exec.Apply(ctx, rc, mapping, actions, remoteFolders, executor.Options{
		Concurrency: e.cfg.Concurrency,
	})
	result.Summary = summary
	if err != nil {
		if apierrors.IsUnauthorized(err) {
			result.AuthRequired = true
		}
		e.bumpFailureStreak(ctx, mapping, &result)
		return result, err
	}

	if len(summary.Failed) > 0 {
		// Keep the old cursor so the failed paths' remote changes are
		// re-collected next pass
		e.bumpFailureStreak(ctx, mapping, &result)
		logger.Warn("Pass finished with failures",
			logging.F("mapping", mappingID),
			logging.F("applied", summary.Applied()),
			logging.F("failed", len(summary.Failed)),
		)
		return result, nil
	}

	if plan.GateTriggered || len(remaining) > 0 {
		// Keep the old cursor: withheld deletions and conflicting remote
		// changes must be re-collected until they are confirmed or decided.
		// Re-collected items whose etag already matches the record are
		// skipped, so holding the cursor is idempotent for everything else.
		return result, nil
	}

	if err := e.store.SetCursor(ctx, mappingID, newCursor, time.Now().Unix()); err != nil {
		return result, err
	}
	if mapping.FailureStreak != 0 {
		_ = e.store.SetFailureStreak(ctx, mappingID, 0)
	}

	logger.Info("Pass complete",
		logging.F("mapping", mappingID),
		logging.F("applied", summary.Applied()),
		logging.F("unresolved", len(remaining)),
	)
	return result, nil
}

// ResolveConflict records the decision for a pending conflict; the next
// pass applies it.
func (e *Engine) ResolveConflict(ctx context.Context, mappingID, relativePath string, resolution state.ConflictPolicy) error {
	switch resolution {
	case state.PolicyPreferLocal, state.PolicyPreferRemote, state.PolicyKeepBoth:
	default:
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
			"resolution must be prefer-local, prefer-remote, or keep-both").Build())
	}
	return e.store.SetConflictResolution(ctx, mappingID, relativePath, resolution)
}

// PendingConflicts lists conflicts awaiting a decision
func (e *Engine) PendingConflicts(ctx context.Context, mappingID string) ([]state.PendingConflict, error) {
	return e.store.ListPendingConflicts(ctx, mappingID)
}

// PendingDeletes lists deletions withheld by the mass-deletion gate
func (e *Engine) PendingDeletes(ctx context.Context, mappingID string) ([]state.PendingDelete, error) {
	return e.store.ListPendingDeletes(ctx, mappingID)
}

// ConfirmPendingDeletes runs a pass with the gate acknowledged, letting
// the withheld deletions execute, then discards the stored set.
func (e *Engine) ConfirmPendingDeletes(ctx context.Context, mappingID string) (Result, error) {
	result, err := e.RunPass(ctx, mappingID, Options{DeletesAcknowledged: true})
	if err != nil {
		return result, err
	}
	return result, e.store.ClearPendingDeletes(ctx, mappingID)
}

// DiscardPendingDeletes drops withheld deletions without executing them
func (e *Engine) DiscardPendingDeletes(ctx context.Context, mappingID string) error {
	return e.store.ClearPendingDeletes(ctx, mappingID)
}

// Watch runs passes for a mapping until ctx is done, waking on local
// filesystem bursts and on the interval timer.
func (e *Engine) Watch(ctx context.Context, mappingID string, interval time.Duration, onResult func(Result, error)) error {
	mapping, err := e.store.GetMapping(ctx, mappingID)
	if err != nil {
		return err
	}

	watcher, err := watch.NewWatcher(mapping.LocalRoot, 2*time.Second, e.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		_ = watcher.Close()
		return err
	}
	defer watcher.Close()

	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		result, runErr := e.RunPass(ctx, mappingID, Options{})
		if runErr == ErrPassInProgress {
			return
		}
		if onResult != nil {
			onResult(result, runErr)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.C():
			run()
		case <-ticker.C:
			run()
		}
	}
}

// dropConvergedConflicts turns both-modified conflicts whose contents
// already match into record-only actions: when the service reports a
// content hash and the local file hashes to the same value, the edits
// converged and there is nothing to merge.
func dropConvergedConflicts(localRoot string, plan *reconcile.Plan) {
	kept := plan.Conflicts[:0]
	for _, c := range plan.Conflicts {
		if !conflictConverged(localRoot, c) {
			kept = append(kept, c)
			continue
		}
		plan.Actions = append(plan.Actions, reconcile.Action{
			Type:   reconcile.ActionRecord,
			Path:   c.Path,
			Local:  c.Local,
			Remote: c.Remote,
			Prev:   c.Prev,
		})
	}
	plan.Conflicts = kept
}

func conflictConverged(localRoot string, c reconcile.Conflict) bool {
	if c.Kind != reconcile.ConflictBothModified || c.Local == nil || c.Remote == nil {
		return false
	}
	if c.Remote.SHA256 == "" || c.Local.IsDir {
		return false
	}
	sum, err := fingerprint.SHA256File(filepath.Join(localRoot, filepath.FromSlash(c.Path)))
	if err != nil {
		return false
	}
	return strings.EqualFold(sum, c.Remote.SHA256)
}

func (e *Engine) loadDecisions(ctx context.Context, mappingID string) (map[string]state.ConflictPolicy, error) {
	pending, err := e.store.ListPendingConflicts(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	decisions := make(map[string]state.ConflictPolicy)
	for _, c := range pending {
		if c.Resolution != "" {
			decisions[c.RelativePath] = c.Resolution
		}
	}
	return decisions, nil
}

// persistConflictState saves newly unresolved conflicts and clears
// pending entries whose decision has now been turned into actions.
func (e *Engine) persistConflictState(ctx context.Context, mappingID string, remaining []reconcile.Conflict, decisions map[string]state.ConflictPolicy) error {
	stillPending := make(map[string]struct{}, len(remaining))
	now := time.Now().Unix()
	for _, c := range remaining {
		stillPending[c.Path] = struct{}{}
		pc := state.PendingConflict{
			MappingID:    mappingID,
			RelativePath: c.Path,
			DetectedAt:   now,
		}
		if c.Local != nil {
			pc.LocalDigest = c.Local.Fingerprint
		}
		if c.Remote != nil {
			pc.RemoteETag = c.Remote.ETag
		}
		if err := e.store.SavePendingConflict(ctx, pc); err != nil {
			return err
		}
	}
	for path := range decisions {
		if _, still := stillPending[path]; !still {
			if err := e.store.ClearPendingConflict(ctx, mappingID, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) persistPendingDeletes(ctx context.Context, mappingID string, withheld []reconcile.Action) error {
	now := time.Now().Unix()
	deletes := make([]state.PendingDelete, 0, len(withheld))
	for _, a := range withheld {
		side := "local"
		if a.Type == reconcile.ActionDeleteRemote {
			side = "remote"
		}
		d := state.PendingDelete{
			MappingID:    mappingID,
			RelativePath: a.Path,
			Side:         side,
			RequestedAt:  now,
		}
		if a.Prev != nil {
			d.RemoteID = a.Prev.RemoteID
			d.IsDir = a.Prev.IsDir
		}
		deletes = append(deletes, d)
	}
	return e.store.SavePendingDeletes(ctx, mappingID, deletes)
}

func (e *Engine) bumpFailureStreak(ctx context.Context, mapping *state.Mapping, result *Result) {
	streak := mapping.FailureStreak + 1
	_ = e.store.SetFailureStreak(ctx, mapping.ID, streak)
	if e.cfg.DegradedAfterFailures > 0 && streak >= e.cfg.DegradedAfterFailures {
		result.Degraded = true
	}
}

// buildRemoteFolders seeds the path-to-ID cache the executor uses for
// parent resolution
func buildRemoteFolders(mapping *state.Mapping, prev map[string]state.ItemRecord) map[string]string {
	folders := map[string]string{"": mapping.RemoteID}
	for p, rec := range prev {
		if rec.IsDir && rec.RemoteID != "" {
			folders[p] = rec.RemoteID
		}
	}
	return folders
}

func countForSummary(s *executor.Summary, t reconcile.ActionType) {
	switch t {
	case reconcile.ActionUpload:
		s.Uploads++
	case reconcile.ActionDownload:
		s.Downloads++
	case reconcile.ActionDeleteLocal, reconcile.ActionDeleteRemote:
		s.Deletes++
	case reconcile.ActionMoveLocal, reconcile.ActionMoveRemote:
		s.Moves++
	case reconcile.ActionMkdirLocal, reconcile.ActionMkdirRemote:
		s.Mkdirs++
	case reconcile.ActionRecord:
		s.Records++
	}
}
