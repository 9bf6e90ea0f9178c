package graph

import (
	"context"
	"io"
	"time"

	"github.com/dl-alexandre/odsync/internal/types"
)

// Item is remote item metadata as returned by mutation calls. SHA256 is
// the service-reported content hash, hex, empty when the drive does not
// publish one.
type Item struct {
	ID           string
	ParentID     string
	Name         string
	IsFolder     bool
	Size         int64
	ETag         string
	SHA256       string
	ModifiedTime time.Time
}

// DeltaItem is one entry from the delta feed. DrivePath is the item's path
// relative to the drive root ("Folder/Sub/file.txt"); it is empty for
// deletions, which carry only the item ID.
type DeltaItem struct {
	ID           string
	ParentID     string
	DrivePath    string
	Name         string
	IsFolder     bool
	Deleted      bool
	Size         int64
	ETag         string
	SHA256       string
	ModifiedTime time.Time
}

// DeltaPage is a single page of the delta feed. NextCursor is the opaque
// token for the next call: a nextLink while HasMore, otherwise the deltaLink
// that seeds the following pass.
type DeltaPage struct {
	Items      []DeltaItem
	NextCursor string
	HasMore    bool
}

// UploadResult is the outcome of a completed upload.
type UploadResult struct {
	RemoteID string
	ETag     string
	Size     int64
}

// UploadOptions controls an upload. ResumeToken is an upload-session URL
// from a previous interrupted attempt; OnSession, when set, is invoked with
// the session URL as soon as one exists so the caller can persist it.
type UploadOptions struct {
	ParentID    string
	Name        string
	ResumeToken string
	OnSession   func(token string)
}

// Remote is the remote-API surface the sync engine consumes. Implemented by
// *Client against Microsoft Graph; tests substitute a mock.
type Remote interface {
	// ListDelta fetches one page of the delta feed. An empty cursor starts a
	// fresh enumeration rooted at rootID.
	ListDelta(ctx context.Context, rc *types.RequestContext, rootID, cursor string) (DeltaPage, error)

	// Download streams item content to w starting at offset, returning the
	// number of bytes written.
	Download(ctx context.Context, rc *types.RequestContext, remoteID string, w io.Writer, offset int64) (int64, error)

	// Upload sends the file at localPath as a child of opts.ParentID,
	// resuming a prior session when opts.ResumeToken is set.
	Upload(ctx context.Context, rc *types.RequestContext, localPath string, opts UploadOptions) (UploadResult, error)

	// DeleteItem removes a remote item (and, for folders, its subtree).
	DeleteItem(ctx context.Context, rc *types.RequestContext, remoteID string) error

	// MoveItem reparents and/or renames a remote item. Empty newParentID
	// keeps the current parent; empty newName keeps the current name.
	MoveItem(ctx context.Context, rc *types.RequestContext, remoteID, newParentID, newName string) (Item, error)

	// CreateFolder creates a child folder under parentID.
	CreateFolder(ctx context.Context, rc *types.RequestContext, parentID, name string) (Item, error)
}
