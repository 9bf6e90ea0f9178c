package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
)

// driveItemJSON is the Graph wire shape for a drive item
type driveItemJSON struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	ETag             string  `json:"eTag"`
	Size             int64   `json:"size"`
	LastModifiedTime string  `json:"lastModifiedDateTime"`
	Folder           *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	File *struct {
		Hashes struct {
			SHA256 string `json:"sha256Hash"`
		} `json:"hashes"`
	} `json:"file,omitempty"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted,omitempty"`
	ParentReference *struct {
		ID      string `json:"id"`
		DriveID string `json:"driveId"`
		Path    string `json:"path"`
	} `json:"parentReference,omitempty"`
}

type deltaResponseJSON struct {
	Value     []driveItemJSON `json:"value"`
	NextLink  string          `json:"@odata.nextLink"`
	DeltaLink string          `json:"@odata.deltaLink"`
}

// drivePath derives the drive-root-relative path for an item from its
// parentReference.path, which looks like "/drives/{id}/root:/Folder/Sub".
// Returns "" when the parent path is absent (deletions, the root itself).
func drivePath(item driveItemJSON) string {
	if item.ParentReference == nil || item.ParentReference.Path == "" {
		return ""
	}
	parent := item.ParentReference.Path
	idx := strings.Index(parent, "root:")
	if idx < 0 {
		return ""
	}
	parent = strings.TrimPrefix(parent[idx+len("root:"):], "/")
	if parent == "" {
		return item.Name
	}
	return parent + "/" + item.Name
}

func parseModifiedTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func toItem(j driveItemJSON) Item {
	item := Item{
		ID:           j.ID,
		Name:         j.Name,
		IsFolder:     j.Folder != nil,
		Size:         j.Size,
		ETag:         j.ETag,
		ModifiedTime: parseModifiedTime(j.LastModifiedTime),
	}
	if j.ParentReference != nil {
		item.ParentID = j.ParentReference.ID
	}
	if j.File != nil {
		item.SHA256 = j.File.Hashes.SHA256
	}
	return item
}

func toDeltaItem(j driveItemJSON) DeltaItem {
	di := DeltaItem{
		ID:           j.ID,
		Name:         j.Name,
		IsFolder:     j.Folder != nil,
		Deleted:      j.Deleted != nil,
		Size:         j.Size,
		ETag:         j.ETag,
		ModifiedTime: parseModifiedTime(j.LastModifiedTime),
	}
	if j.ParentReference != nil {
		di.ParentID = j.ParentReference.ID
	}
	if j.File != nil {
		di.SHA256 = j.File.Hashes.SHA256
	}
	if !di.Deleted {
		di.DrivePath = drivePath(j)
	}
	return di
}

// ListDelta fetches one page of the delta feed
func (c *Client) ListDelta(ctx context.Context, rc *types.RequestContext, rootID, cursor string) (DeltaPage, error) {
	return ExecuteWithRetry(ctx, c, rc, func() (DeltaPage, error) {
		reqURL := cursor
		if reqURL == "" {
			reqURL = fmt.Sprintf("/me/drive/items/%s/delta", url.PathEscape(rootID))
		}

		var resp deltaResponseJSON
		if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &resp); err != nil {
			return DeltaPage{}, err
		}

		page := DeltaPage{Items: make([]DeltaItem, 0, len(resp.Value))}
		for _, v := range resp.Value {
			page.Items = append(page.Items, toDeltaItem(v))
		}
		if resp.NextLink != "" {
			page.NextCursor = resp.NextLink
			page.HasMore = true
		} else {
			page.NextCursor = resp.DeltaLink
		}
		return page, nil
	})
}

// Download streams item content to w starting at offset. Bytes already
// written to w count toward the Range of any retried attempt, so a
// mid-body failure resumes instead of replaying content into w.
func (c *Client) Download(ctx context.Context, rc *types.RequestContext, remoteID string, w io.Writer, offset int64) (int64, error) {
	var written int64
	_, err := ExecuteWithRetry(ctx, c, rc, func() (struct{}, error) {
		start := offset + written
		reqURL := fmt.Sprintf("/me/drive/items/%s/content", url.PathEscape(remoteID))
		req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return struct{}{}, err
		}
		if start > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return struct{}{}, apiErrorFromResponse(resp)
		}

		// A 200 to a ranged request means the server ignored the Range
		// header and restarted from zero
		if start > 0 && resp.StatusCode != http.StatusPartialContent {
			return struct{}{}, &types.GraphAPIError{
				StatusCode: resp.StatusCode,
				Reason:     "rangeNotHonored",
				Message:    "server ignored range request, restart download",
			}
		}

		buf := make([]byte, utils.DownloadBufferSize)
		n, copyErr := io.CopyBuffer(w, resp.Body, buf)
		written += n
		return struct{}{}, copyErr
	})
	return written, err
}

// uploadSessionJSON is the createUploadSession response
type uploadSessionJSON struct {
	UploadURL          string   `json:"uploadUrl"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// Upload sends a local file to the remote, choosing simple PUT or an
// upload session by size
func (c *Client) Upload(ctx context.Context, rc *types.RequestContext, localPath string, opts UploadOptions) (UploadResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return UploadResult{}, utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidPath, err.Error()).
			WithContext("path", localPath).
			Build())
	}

	if info.Size() <= utils.SimpleUploadLimit && opts.ResumeToken == "" {
		return c.uploadSimple(ctx, rc, localPath, info.Size(), opts)
	}
	return c.uploadSession(ctx, rc, localPath, info.Size(), opts)
}

func (c *Client) uploadSimple(ctx context.Context, rc *types.RequestContext, localPath string, size int64, opts UploadOptions) (UploadResult, error) {
	return ExecuteWithRetry(ctx, c, rc, func() (UploadResult, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return UploadResult{}, err
		}
		defer f.Close()

		reqURL := fmt.Sprintf("/me/drive/items/%s:/%s:/content",
			url.PathEscape(opts.ParentID), url.PathEscape(opts.Name))
		req, err := c.newRequest(ctx, http.MethodPut, reqURL, f)
		if err != nil {
			return UploadResult{}, err
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return UploadResult{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return UploadResult{}, apiErrorFromResponse(resp)
		}

		var item driveItemJSON
		if err := decodeBody(resp, &item); err != nil {
			return UploadResult{}, err
		}
		return UploadResult{RemoteID: item.ID, ETag: item.ETag, Size: item.Size}, nil
	})
}

// uploadSession drives a chunked upload, creating or resuming a session.
// The session URL is handed to opts.OnSession before any chunk moves so
// callers can persist it for resume.
func (c *Client) uploadSession(ctx context.Context, rc *types.RequestContext, localPath string, size int64, opts UploadOptions) (UploadResult, error) {
	sessionURL := opts.ResumeToken
	var nextOffset int64

	if sessionURL != "" {
		offset, err := c.querySessionOffset(ctx, rc, sessionURL)
		if err != nil {
			// Stale or expired session: start over
			sessionURL = ""
		} else {
			nextOffset = offset
		}
	}

	if sessionURL == "" {
		created, err := ExecuteWithRetry(ctx, c, rc, func() (uploadSessionJSON, error) {
			reqURL := fmt.Sprintf("/me/drive/items/%s:/%s:/createUploadSession",
				url.PathEscape(opts.ParentID), url.PathEscape(opts.Name))
			body := map[string]interface{}{
				"item": map[string]interface{}{
					"@microsoft.graph.conflictBehavior": "replace",
					"name":                              opts.Name,
				},
			}
			var session uploadSessionJSON
			if err := c.doJSON(ctx, http.MethodPost, reqURL, body, &session); err != nil {
				return uploadSessionJSON{}, err
			}
			return session, nil
		})
		if err != nil {
			return UploadResult{}, err
		}
		sessionURL = created.UploadURL
		nextOffset = 0
	}

	if opts.OnSession != nil {
		opts.OnSession(sessionURL)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()

	for nextOffset < size {
		chunkLen := int64(utils.UploadChunkSize)
		if size-nextOffset < chunkLen {
			chunkLen = size - nextOffset
		}

		offset := nextOffset
		res, err := ExecuteWithRetry(ctx, c, rc, func() (chunkResult, error) {
			return c.uploadChunk(ctx, sessionURL, f, offset, chunkLen, size)
		})
		if err != nil {
			return UploadResult{}, err
		}
		if res.complete {
			return UploadResult{RemoteID: res.item.ID, ETag: res.item.ETag, Size: res.item.Size}, nil
		}
		nextOffset = offset + chunkLen
	}

	return UploadResult{}, utils.NewAppError(utils.NewSyncError(utils.ErrCodeIntegrity,
		"upload session ended without a completed item").
		WithContext("path", localPath).
		Build())
}

type chunkResult struct {
	complete bool
	item     driveItemJSON
}

func (c *Client) uploadChunk(ctx context.Context, sessionURL string, f *os.File, offset, length, total int64) (chunkResult, error) {
	section := io.NewSectionReader(f, offset, length)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, section)
	if err != nil {
		return chunkResult{}, err
	}
	req.ContentLength = length
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chunkResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return chunkResult{}, apiErrorFromResponse(resp)
	}

	// 200/201 carry the finished item; 202 acknowledges the chunk
	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return chunkResult{}, nil
	}

	var item driveItemJSON
	if err := decodeBody(resp, &item); err != nil {
		return chunkResult{}, err
	}
	return chunkResult{complete: true, item: item}, nil
}

// querySessionOffset asks an existing session where to resume
func (c *Client) querySessionOffset(ctx context.Context, rc *types.RequestContext, sessionURL string) (int64, error) {
	session, err := ExecuteWithRetry(ctx, c, rc, func() (uploadSessionJSON, error) {
		var s uploadSessionJSON
		if err := c.doJSON(ctx, http.MethodGet, sessionURL, nil, &s); err != nil {
			return uploadSessionJSON{}, err
		}
		return s, nil
	})
	if err != nil {
		return 0, err
	}
	if len(session.NextExpectedRanges) == 0 {
		return 0, fmt.Errorf("upload session has no expected ranges")
	}
	var offset int64
	if _, err := fmt.Sscanf(session.NextExpectedRanges[0], "%d-", &offset); err != nil {
		return 0, fmt.Errorf("malformed expected range %q", session.NextExpectedRanges[0])
	}
	return offset, nil
}

// decodeBody decodes a JSON response body
func decodeBody(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DeleteItem removes a remote item and its subtree
func (c *Client) DeleteItem(ctx context.Context, rc *types.RequestContext, remoteID string) error {
	_, err := ExecuteWithRetry(ctx, c, rc, func() (struct{}, error) {
		reqURL := fmt.Sprintf("/me/drive/items/%s", url.PathEscape(remoteID))
		return struct{}{}, c.doJSON(ctx, http.MethodDelete, reqURL, nil, nil)
	})
	return err
}

// MoveItem reparents and/or renames a remote item
func (c *Client) MoveItem(ctx context.Context, rc *types.RequestContext, remoteID, newParentID, newName string) (Item, error) {
	return ExecuteWithRetry(ctx, c, rc, func() (Item, error) {
		body := map[string]interface{}{}
		if newParentID != "" {
			body["parentReference"] = map[string]string{"id": newParentID}
		}
		if newName != "" {
			body["name"] = newName
		}
		reqURL := fmt.Sprintf("/me/drive/items/%s", url.PathEscape(remoteID))
		var item driveItemJSON
		if err := c.doJSON(ctx, http.MethodPatch, reqURL, body, &item); err != nil {
			return Item{}, err
		}
		return toItem(item), nil
	})
}

// CreateFolder creates a child folder under parentID
func (c *Client) CreateFolder(ctx context.Context, rc *types.RequestContext, parentID, name string) (Item, error) {
	return ExecuteWithRetry(ctx, c, rc, func() (Item, error) {
		reqURL := fmt.Sprintf("/me/drive/items/%s/children", url.PathEscape(parentID))
		body := map[string]interface{}{
			"name":                              name,
			"folder":                            map[string]interface{}{},
			"@microsoft.graph.conflictBehavior": "fail",
		}
		var item driveItemJSON
		if err := c.doJSON(ctx, http.MethodPost, reqURL, body, &item); err != nil {
			return Item{}, err
		}
		return toItem(item), nil
	})
}
