// Package persist keeps pages and their document snapshots at rest. The
// hub loads a page from here when its first session arrives and flushes
// dirty pages back on a schedule and at shutdown.
package persist

import (
	"context"
	"time"

	"github.com/conneroisu/pagecraft/internal/store"
)

// Page is the project-level record of one editable page.
type Page struct {
	ProjectID string            `json:"projectId" yaml:"projectId"`
	ID        string            `json:"id" yaml:"id"`
	Title     string            `json:"title,omitempty" yaml:"title,omitempty"`
	Styles    map[string]string `json:"styles,omitempty" yaml:"styles,omitempty"`
	CreatedAt time.Time         `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt" yaml:"updatedAt"`
	// DeletedAt is set once the page is tombstoned.
	DeletedAt *time.Time `json:"deletedAt,omitempty" yaml:"deletedAt,omitempty"`
}

// Deleted reports whether the page carries a tombstone.
func (p Page) Deleted() bool {
	return p.DeletedAt != nil
}

// Store is the persistence collaborator.
type Store interface {
	// CreatePage registers a new page. Creating an existing id fails with
	// ErrDuplicateID, even when that page was deleted.
	CreatePage(ctx context.Context, page Page) error
	// DeletePage tombstones a page; it stays listed with DeletedAt set.
	DeletePage(ctx context.Context, projectID, pageID string, at time.Time) error
	// Page returns one page, or ErrPageUnavailable when it does not exist.
	Page(ctx context.Context, projectID, pageID string) (Page, error)
	ListPages(ctx context.Context, projectID string) ([]Page, error)
	// SaveSnapshot replaces the stored document of snap.PageID.
	SaveSnapshot(ctx context.Context, projectID string, snap *store.Snapshot) error
	// LoadSnapshot returns the stored document, or nil when none was saved.
	LoadSnapshot(ctx context.Context, projectID, pageID string) (*store.Snapshot, error)
	Close() error
}
