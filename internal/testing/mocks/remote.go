package mocks

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/types"
)

// MockRemote is an in-memory graph.Remote. Delta pages are scripted with
// QueuePage; mutation calls update the in-memory drive so uploads,
// deletes, and moves can be asserted on.
type MockRemote struct {
	mu sync.Mutex

	items    map[string]graph.Item
	contents map[string][]byte
	pages    [][]graph.DeltaItem
	nextID   int

	// Failure injection, keyed by remote ID or upload name
	DeltaErr     error
	FailDownload map[string]error
	FailUpload   map[string]error
	FailDelete   map[string]error

	// Upload reports one byte more than it stored, to trip integrity checks
	LieAboutUploadSize bool

	DeltaCalls    int
	UploadCalls   int
	DownloadCalls int
	DeleteCalls   int
}

func NewMockRemote() *MockRemote {
	return &MockRemote{
		items:        make(map[string]graph.Item),
		contents:     make(map[string][]byte),
		FailDownload: make(map[string]error),
		FailUpload:   make(map[string]error),
		FailDelete:   make(map[string]error),
	}
}

// QueuePage scripts one page of the delta feed. Pages replay from
// whatever cursor the caller presents, the way the real feed replays
// from a stale token.
func (m *MockRemote) QueuePage(items ...graph.DeltaItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, items)
}

// Seed registers an item with content without going through Upload
func (m *MockRemote) Seed(item graph.Item, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	if content != nil {
		m.contents[item.ID] = content
	}
}

// Item returns a registered item by ID
func (m *MockRemote) Item(id string) (graph.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok
}

// ItemByName finds an item by name, for asserting on uploads
func (m *MockRemote) ItemByName(name string) (graph.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.Name == name {
			return item, true
		}
	}
	return graph.Item{}, false
}

// Content returns stored content by remote ID
func (m *MockRemote) Content(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contents[id]
}

func (m *MockRemote) ListDelta(ctx context.Context, rc *types.RequestContext, rootID, cursor string) (graph.DeltaPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeltaCalls++

	if m.DeltaErr != nil {
		return graph.DeltaPage{}, m.DeltaErr
	}

	start := 0
	if n, err := strconv.Atoi(strings.TrimPrefix(cursor, "cursor-")); err == nil {
		start = n
	}
	if start >= len(m.pages) {
		return graph.DeltaPage{NextCursor: fmt.Sprintf("cursor-%d", len(m.pages))}, nil
	}
	return graph.DeltaPage{
		Items:      m.pages[start],
		NextCursor: fmt.Sprintf("cursor-%d", start+1),
		HasMore:    start+1 < len(m.pages),
	}, nil
}

func (m *MockRemote) Download(ctx context.Context, rc *types.RequestContext, remoteID string, w io.Writer, offset int64) (int64, error) {
	m.mu.Lock()
	m.DownloadCalls++
	err := m.FailDownload[remoteID]
	content, ok := m.contents[remoteID]
	m.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &types.GraphAPIError{StatusCode: 404, Reason: "itemNotFound", Message: "no such item"}
	}
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	n, err := w.Write(content[offset:])
	return int64(n), err
}

func (m *MockRemote) Upload(ctx context.Context, rc *types.RequestContext, localPath string, opts graph.UploadOptions) (graph.UploadResult, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return graph.UploadResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadCalls++

	if failErr := m.FailUpload[opts.Name]; failErr != nil {
		return graph.UploadResult{}, failErr
	}

	// Replace an existing child of the same name under the same parent
	id := ""
	for existingID, item := range m.items {
		if item.Name == opts.Name && item.ParentID == opts.ParentID && !item.IsFolder {
			id = existingID
			break
		}
	}
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("item-%d", m.nextID)
	}

	m.items[id] = graph.Item{
		ID:           id,
		ParentID:     opts.ParentID,
		Name:         opts.Name,
		Size:         int64(len(data)),
		ETag:         fmt.Sprintf("etag-%s-%d", id, len(data)),
		ModifiedTime: time.Now().UTC(),
	}
	m.contents[id] = data

	size := int64(len(data))
	if m.LieAboutUploadSize {
		size++
	}
	return graph.UploadResult{RemoteID: id, ETag: m.items[id].ETag, Size: size}, nil
}

func (m *MockRemote) DeleteItem(ctx context.Context, rc *types.RequestContext, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++

	if err := m.FailDelete[remoteID]; err != nil {
		return err
	}
	if _, ok := m.items[remoteID]; !ok {
		return &types.GraphAPIError{StatusCode: 404, Reason: "itemNotFound", Message: "no such item"}
	}
	delete(m.items, remoteID)
	delete(m.contents, remoteID)
	return nil
}

func (m *MockRemote) MoveItem(ctx context.Context, rc *types.RequestContext, remoteID, newParentID, newName string) (graph.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[remoteID]
	if !ok {
		return graph.Item{}, &types.GraphAPIError{StatusCode: 404, Reason: "itemNotFound", Message: "no such item"}
	}
	if newParentID != "" {
		item.ParentID = newParentID
	}
	if newName != "" {
		item.Name = newName
	}
	m.items[remoteID] = item
	return item, nil
}

func (m *MockRemote) CreateFolder(ctx context.Context, rc *types.RequestContext, parentID, name string) (graph.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("folder-%d", m.nextID)
	item := graph.Item{
		ID:       id,
		ParentID: parentID,
		Name:     name,
		IsFolder: true,
	}
	m.items[id] = item
	return item, nil
}
