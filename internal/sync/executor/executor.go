package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/odsync/internal/errors"
	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/dl-alexandre/odsync/internal/sync/fingerprint"
	"github.com/dl-alexandre/odsync/internal/sync/reconcile"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
)

// Executor applies a plan action by action. Every successful action
// commits its own record update, so an interrupted pass resumes from
// where it stopped instead of redoing finished work.
type Executor struct {
	remote graph.Remote
	store  *state.Store
	logger logging.Logger
}

// Options tunes one application
type Options struct {
	Concurrency int
	DryRun      bool
}

// PathError is a failure confined to one path; the rest of the plan
// still runs.
type PathError struct {
	Path   string
	Action reconcile.ActionType
	Err    error
}

func (e PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Path, e.Err)
}

// Summary counts what one application did
type Summary struct {
	Uploads   int
	Downloads int
	Deletes   int
	Moves     int
	Mkdirs    int
	Records   int
	Failed    []PathError
}

func (s Summary) Applied() int {
	return s.Uploads + s.Downloads + s.Deletes + s.Moves + s.Mkdirs + s.Records
}

func New(remote graph.Remote, store *state.Store, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Executor{remote: remote, store: store, logger: logger}
}

// Apply executes actions in plan order. Transfers that sit next to each
// other in the plan run concurrently; everything else is sequential so
// ordering constraints (parents before children, displacing moves before
// the transfer that reuses the path) hold. remoteFolders maps relative
// folder paths to remote IDs and must contain "" for the mapping root.
func (e *Executor) Apply(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, actions []reconcile.Action, remoteFolders map[string]string, opts Options) (Summary, error) {
	var summary Summary

	if opts.DryRun {
		for _, a := range actions {
			countAction(&summary, a.Type)
		}
		return summary, nil
	}

	var batch []reconcile.Action
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := e.runTransfers(ctx, rc, mapping, batch, remoteFolders, opts.Concurrency, &summary)
		batch = batch[:0]
		return err
	}

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if action.Type == reconcile.ActionUpload || action.Type == reconcile.ActionDownload {
			batch = append(batch, action)
			continue
		}
		if err := flush(); err != nil {
			return summary, err
		}

		if err := e.applyOne(ctx, rc, mapping, action, remoteFolders); err != nil {
			if fatal(err) {
				return summary, err
			}
			summary.Failed = append(summary.Failed, PathError{Path: action.Path, Action: action.Type, Err: err})
			e.logger.Warn("Action failed",
				logging.F("action", string(action.Type)),
				logging.F("path", action.Path),
				logging.F("error", err.Error()),
			)
			continue
		}
		countAction(&summary, action.Type)
	}
	if err := flush(); err != nil {
		return summary, err
	}

	return summary, nil
}

// runTransfers applies a contiguous run of uploads and downloads with a
// worker pool. Fatal errors stop the pool; per-path errors are collected.
func (e *Executor) runTransfers(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, transfers []reconcile.Action, remoteFolders map[string]string, concurrency int, summary *Summary) error {
	// Parent folders are created up front so workers never race on
	// folder creation
	for _, a := range transfers {
		if a.Type == reconcile.ActionUpload {
			if _, err := e.ensureRemoteFolder(ctx, rc, mapping, remoteFolders, parentOf(a.Path)); err != nil {
				return err
			}
		} else {
			if err := ensureLocalDir(mapping.LocalRoot, parentOf(a.Path)); err != nil {
				return err
			}
		}
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan reconcile.Action)
	var mu sync.Mutex
	var fatalErr error
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range jobs {
				if ctx.Err() != nil {
					continue
				}
				var err error
				if action.Type == reconcile.ActionUpload {
					err = e.applyUpload(ctx, rc, mapping, action, remoteFolders)
				} else {
					err = e.applyDownload(ctx, rc, mapping, action)
				}

				mu.Lock()
				if err != nil {
					if fatal(err) {
						if fatalErr == nil {
							fatalErr = err
						}
						cancel()
					} else {
						summary.Failed = append(summary.Failed, PathError{Path: action.Path, Action: action.Type, Err: err})
						e.logger.Warn("Transfer failed",
							logging.F("action", string(action.Type)),
							logging.F("path", action.Path),
							logging.F("error", err.Error()),
						)
					}
				} else {
					countAction(summary, action.Type)
				}
				mu.Unlock()
			}
		}()
	}

	for _, action := range transfers {
		jobs <- action
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

func (e *Executor) applyOne(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action, remoteFolders map[string]string) error {
	switch action.Type {
	case reconcile.ActionMkdirRemote:
		return e.applyMkdirRemote(ctx, rc, mapping, action, remoteFolders)
	case reconcile.ActionMkdirLocal:
		return e.applyMkdirLocal(ctx, mapping, action)
	case reconcile.ActionMoveRemote:
		return e.applyMoveRemote(ctx, rc, mapping, action, remoteFolders)
	case reconcile.ActionMoveLocal:
		return e.applyMoveLocal(ctx, mapping, action)
	case reconcile.ActionDeleteRemote:
		return e.applyDeleteRemote(ctx, rc, mapping, action)
	case reconcile.ActionDeleteLocal:
		return e.applyDeleteLocal(ctx, mapping, action)
	case reconcile.ActionRecord:
		return e.applyRecord(ctx, mapping, action)
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (e *Executor) applyMkdirRemote(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action, remoteFolders map[string]string) error {
	id, err := e.ensureRemoteFolder(ctx, rc, mapping, remoteFolders, action.Path)
	if err != nil {
		return err
	}
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.Upsert(ctx, state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: action.Path,
			IsDir:        true,
			RemoteID:     id,
		})
	})
}

func (e *Executor) applyMkdirLocal(ctx context.Context, mapping *state.Mapping, action reconcile.Action) error {
	if err := os.MkdirAll(filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.Path)), 0700); err != nil {
		return err
	}
	remoteID := ""
	if action.Remote != nil {
		remoteID = action.Remote.RemoteID
	}
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.Upsert(ctx, state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: action.Path,
			IsDir:        true,
			RemoteID:     remoteID,
		})
	})
}

func (e *Executor) applyMoveRemote(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action, remoteFolders map[string]string) error {
	remoteID := remoteIDFor(action)
	if remoteID == "" {
		return fmt.Errorf("no remote item known at %s", action.FromPath)
	}

	newParentID, err := e.ensureRemoteFolder(ctx, rc, mapping, remoteFolders, parentOf(action.Path))
	if err != nil {
		return err
	}

	item, err := e.remote.MoveItem(ctx, rc, remoteID, newParentID, path.Base(action.Path))
	if err != nil {
		return err
	}

	if item.IsFolder {
		remoteFolders[action.Path] = item.ID
		delete(remoteFolders, action.FromPath)
	}

	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.RenameSubtree(ctx, action.FromPath, action.Path)
	})
}

func (e *Executor) applyMoveLocal(ctx context.Context, mapping *state.Mapping, action reconcile.Action) error {
	from := filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.FromPath))
	to := filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.Path))
	if err := os.MkdirAll(filepath.Dir(to), 0700); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return err
	}
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.RenameSubtree(ctx, action.FromPath, action.Path)
	})
}

func (e *Executor) applyDeleteRemote(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action) error {
	remoteID := remoteIDFor(action)
	if remoteID != "" {
		if err := e.remote.DeleteItem(ctx, rc, remoteID); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.DeleteSubtree(ctx, action.Path)
	})
}

func (e *Executor) applyDeleteLocal(ctx context.Context, mapping *state.Mapping, action reconcile.Action) error {
	target := filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.Path))
	isDir := action.Prev != nil && action.Prev.IsDir
	if isDir {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	} else if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.DeleteSubtree(ctx, action.Path)
	})
}

// applyRecord reconciles the stored record with replicas that already
// agree without touching either side.
func (e *Executor) applyRecord(ctx context.Context, mapping *state.Mapping, action reconcile.Action) error {
	bothGone := action.Local != nil && action.Local.Kind == reconcile.Deleted &&
		action.Remote != nil && action.Remote.Kind == reconcile.Deleted
	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		if bothGone {
			return tx.DeleteSubtree(ctx, action.Path)
		}
		rec := state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: action.Path,
			IsDir:        true,
		}
		if action.Local != nil {
			rec.IsDir = action.Local.IsDir
			rec.Fingerprint = action.Local.Fingerprint
			rec.LocalMTime = action.Local.MTime
			rec.Size = action.Local.Size
		}
		if action.Remote != nil {
			rec.IsDir = action.Remote.IsDir
			rec.RemoteID = action.Remote.RemoteID
			rec.ETag = action.Remote.ETag
		}
		return tx.Upsert(ctx, rec)
	})
}

func (e *Executor) applyUpload(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action, remoteFolders map[string]string) error {
	localPath := filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.Path))
	parentID, ok := remoteFolders[parentOf(action.Path)]
	if !ok {
		return fmt.Errorf("no remote folder for parent of %s", action.Path)
	}

	var resumeToken string
	if prior, err := e.store.LoadTransfer(ctx, mapping.ID, action.Path, "upload"); err == nil && prior != nil {
		resumeToken = prior.ResumeToken
	}

	result, err := e.remote.Upload(ctx, rc, localPath, graph.UploadOptions{
		ParentID:    parentID,
		Name:        path.Base(action.Path),
		ResumeToken: resumeToken,
		OnSession: func(token string) {
			_ = e.store.SaveTransfer(ctx, state.Transfer{
				MappingID:    mapping.ID,
				RelativePath: action.Path,
				Kind:         "upload",
				ResumeToken:  token,
			})
		},
	})
	if err != nil {
		return err
	}

	info, statErr := os.Stat(localPath)
	if statErr != nil {
		return statErr
	}
	if result.Size != info.Size() {
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeIntegrity,
			fmt.Sprintf("uploaded %d bytes but local file has %d", result.Size, info.Size())).
			WithContext("path", action.Path).
			Build())
	}

	digest := ""
	if action.Local != nil {
		digest = action.Local.Fingerprint
	}
	if digest == "" {
		if digest, err = fingerprint.File(localPath); err != nil {
			return err
		}
	}

	_ = e.store.ClearTransfer(ctx, mapping.ID, action.Path, "upload")

	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.Upsert(ctx, state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: action.Path,
			RemoteID:     result.RemoteID,
			ETag:         result.ETag,
			Fingerprint:  digest,
			LocalMTime:   info.ModTime().Unix(),
			Size:         info.Size(),
		})
	})
}

// applyDownload streams into a temp file next to the target, resuming a
// partial temp from a previous pass, and renames into place only after
// the size checks out.
func (e *Executor) applyDownload(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, action reconcile.Action) error {
	if action.Remote == nil || action.Remote.RemoteID == "" {
		return fmt.Errorf("no remote item known at %s", action.Path)
	}

	finalPath := filepath.Join(mapping.LocalRoot, filepath.FromSlash(action.Path))
	tempPath := finalPath + utils.TempSuffix

	var offset int64
	if prior, err := e.store.LoadTransfer(ctx, mapping.ID, action.Path, "download"); err == nil && prior != nil && prior.TempPath == tempPath {
		if info, statErr := os.Stat(tempPath); statErr == nil {
			offset = info.Size()
		}
	}

	if err := e.store.SaveTransfer(ctx, state.Transfer{
		MappingID:    mapping.ID,
		RelativePath: action.Path,
		Kind:         "download",
		TempPath:     tempPath,
	}); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tempPath, flags, 0600)
	if err != nil {
		return err
	}

	_, err = e.remote.Download(ctx, rc, action.Remote.RemoteID, f, offset)
	closeErr := f.Close()
	if err != nil {
		// A range rejection means the partial temp is useless
		if offset > 0 {
			_ = os.Remove(tempPath)
			_ = e.store.ClearTransfer(ctx, mapping.ID, action.Path, "download")
		}
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return err
	}
	if action.Remote.Size > 0 && info.Size() != action.Remote.Size {
		_ = os.Remove(tempPath)
		_ = e.store.ClearTransfer(ctx, mapping.ID, action.Path, "download")
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeIntegrity,
			fmt.Sprintf("downloaded %d bytes but remote reports %d", info.Size(), action.Remote.Size)).
			WithContext("path", action.Path).
			Build())
	}
	if action.Remote.SHA256 != "" {
		sum, sumErr := fingerprint.SHA256File(tempPath)
		if sumErr != nil {
			return sumErr
		}
		if !strings.EqualFold(sum, action.Remote.SHA256) {
			_ = os.Remove(tempPath)
			_ = e.store.ClearTransfer(ctx, mapping.ID, action.Path, "download")
			return utils.NewAppError(utils.NewSyncError(utils.ErrCodeIntegrity,
				"downloaded content does not match the hash the remote reports").
				WithContext("path", action.Path).
				Build())
		}
	}

	if action.Remote.MTime > 0 {
		mt := time.Unix(action.Remote.MTime, 0)
		_ = os.Chtimes(tempPath, mt, mt)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return err
	}
	_ = e.store.ClearTransfer(ctx, mapping.ID, action.Path, "download")

	digest, err := fingerprint.File(finalPath)
	if err != nil {
		return err
	}
	finalInfo, err := os.Stat(finalPath)
	if err != nil {
		return err
	}

	return e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.Upsert(ctx, state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: action.Path,
			RemoteID:     action.Remote.RemoteID,
			ETag:         action.Remote.ETag,
			Fingerprint:  digest,
			LocalMTime:   finalInfo.ModTime().Unix(),
			Size:         finalInfo.Size(),
		})
	})
}

// ensureRemoteFolder resolves or creates the remote folder chain for a
// relative path, caching IDs as it goes.
func (e *Executor) ensureRemoteFolder(ctx context.Context, rc *types.RequestContext, mapping *state.Mapping, remoteFolders map[string]string, relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return remoteFolders[""], nil
	}
	if id, ok := remoteFolders[relPath]; ok {
		return id, nil
	}
	parentID, err := e.ensureRemoteFolder(ctx, rc, mapping, remoteFolders, parentOf(relPath))
	if err != nil {
		return "", err
	}
	item, err := e.remote.CreateFolder(ctx, rc, parentID, path.Base(relPath))
	if err != nil {
		return "", err
	}
	remoteFolders[relPath] = item.ID

	commitErr := e.commitRecord(ctx, mapping.ID, func(tx *state.Tx) error {
		return tx.Upsert(ctx, state.ItemRecord{
			MappingID:    mapping.ID,
			RelativePath: relPath,
			IsDir:        true,
			RemoteID:     item.ID,
		})
	})
	if commitErr != nil {
		return "", commitErr
	}
	return item.ID, nil
}

func (e *Executor) commitRecord(ctx context.Context, mappingID string, fn func(*state.Tx) error) error {
	tx, err := e.store.Begin(ctx, mappingID)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrStoreUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", state.ErrStoreUnavailable, err)
	}
	return tx.Commit()
}

func ensureLocalDir(root, relPath string) error {
	if relPath == "" || relPath == "." {
		return nil
	}
	return os.MkdirAll(filepath.Join(root, filepath.FromSlash(relPath)), 0700)
}

func parentOf(p string) string {
	parent := path.Dir(p)
	if parent == "." {
		return ""
	}
	return parent
}

func remoteIDFor(action reconcile.Action) string {
	if action.Prev != nil && action.Prev.RemoteID != "" {
		return action.Prev.RemoteID
	}
	if action.Remote != nil && action.Remote.RemoteID != "" {
		return action.Remote.RemoteID
	}
	if action.Local != nil && action.Local.RemoteID != "" {
		return action.Local.RemoteID
	}
	return ""
}

// fatal reports errors that should stop the whole pass rather than be
// confined to one path.
func fatal(err error) bool {
	if err == nil {
		return false
	}
	switch utils.ErrorCode(err) {
	case utils.ErrCodeAuthRequired, utils.ErrCodeAuthExpired, utils.ErrCodeStoreUnavailable:
		return true
	}
	return stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, state.ErrStoreUnavailable)
}

func countAction(s *Summary, t reconcile.ActionType) {
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
