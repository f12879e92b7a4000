package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/store"
)

type pageKey struct {
	project, page string
}

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu        sync.RWMutex
	pages     map[pageKey]Page
	snapshots map[pageKey]*store.Snapshot
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pages:     make(map[pageKey]Page),
		snapshots: make(map[pageKey]*store.Snapshot),
	}
}

func (m *Memory) CreatePage(_ context.Context, page Page) error {
	if err := checkPage(page); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pageKey{page.ProjectID, page.ID}
	if _, exists := m.pages[key]; exists {
		return errors.NewDuplicateID(page.ID).WithPage(page.ID)
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	page.UpdatedAt = page.CreatedAt
	m.pages[key] = page
	return nil
}

func (m *Memory) DeletePage(_ context.Context, projectID, pageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pageKey{projectID, pageID}
	page, ok := m.pages[key]
	if !ok || page.Deleted() {
		return errors.NewPageUnavailable(pageID)
	}
	page.DeletedAt = &at
	page.UpdatedAt = at
	m.pages[key] = page
	delete(m.snapshots, key)
	return nil
}

func (m *Memory) Page(_ context.Context, projectID, pageID string) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[pageKey{projectID, pageID}]
	if !ok {
		return Page{}, errors.NewPageUnavailable(pageID)
	}
	return page, nil
}

func (m *Memory) ListPages(_ context.Context, projectID string) ([]Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Page
	for key, page := range m.pages {
		if key.project == projectID {
			out = append(out, page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSnapshot(_ context.Context, projectID string, snap *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pageKey{projectID, snap.PageID}
	page, ok := m.pages[key]
	if !ok || page.Deleted() {
		return errors.NewPageUnavailable(snap.PageID)
	}
	m.snapshots[key] = snap
	page.UpdatedAt = time.Now().UTC()
	m.pages[key] = page
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, projectID, pageID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[pageKey{projectID, pageID}], nil
}

func (m *Memory) Close() error {
	return nil
}

func checkPage(page Page) error {
	if page.ProjectID == "" || page.ID == "" {
		return errors.NewStorageError("page needs a project and an id", nil)
	}
	return nil
}
