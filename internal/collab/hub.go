// Package collab keeps the editors of a page convergent. The Hub is the
// authority: one room per page owns the page document, orders the
// proposals of every session, applies them and broadcasts the result. A
// Session is the client side: it ships local operations, applies remote
// ones and repairs divergence with snapshots.
package collab

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/persist"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/transport"
)

const (
	// HubActor is the store actor of every room document.
	HubActor = "hub"

	DefaultMaxReplayGap     = 256
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultSendBuffer       = 256
	DefaultReorderLimit     = 1024

	writeWait = 10 * time.Second
)

// HubConfig wires a Hub.
type HubConfig struct {
	Pages  persist.Store
	Logger logging.Logger

	// MaxReplayGap is the largest sequence gap served by journal replay;
	// larger gaps get a snapshot.
	MaxReplayGap     uint64
	JournalSize      int
	HeartbeatTimeout time.Duration
	SendBuffer       int
	ReorderLimit     int
}

func (c *HubConfig) defaults() {
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.MaxReplayGap == 0 {
		c.MaxReplayGap = DefaultMaxReplayGap
	}
	if c.JournalSize <= 0 {
		c.JournalSize = store.DefaultJournalSize
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.ReorderLimit <= 0 {
		c.ReorderLimit = DefaultReorderLimit
	}
}

// Hub serves every page of every project.
type Hub struct {
	cfg    HubConfig
	pages  persist.Store
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub creates a hub. Pages must be set.
func NewHub(cfg HubConfig) *Hub {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		pages:  cfg.Pages,
		logger: cfg.Logger.WithComponent("hub"),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}
}

func roomKey(projectID, pageID string) string {
	return projectID + "/" + pageID
}

// CreatePage registers a page so sessions can join it.
func (h *Hub) CreatePage(ctx context.Context, page persist.Page) error {
	if err := h.pages.CreatePage(ctx, page); err != nil {
		return err
	}
	h.logger.Info(ctx, "page created", "project", page.ProjectID, "page", page.ID)
	return nil
}

// DeletePage tombstones a page. Connected sessions receive a
// PageUnavailable error and are dropped; later joins are refused.
func (h *Hub) DeletePage(ctx context.Context, projectID, pageID string) error {
	if err := h.pages.DeletePage(ctx, projectID, pageID, time.Now().UTC()); err != nil {
		return err
	}

	h.mu.Lock()
	key := roomKey(projectID, pageID)
	r := h.rooms[key]
	delete(h.rooms, key)
	h.mu.Unlock()

	if r != nil {
		r.do(func() { r.shutdown(errors.NewPageUnavailable(pageID)) })
	}
	h.logger.Info(ctx, "page deleted", "project", projectID, "page", pageID)
	return nil
}

// ListPages lists the pages of a project, tombstones included.
func (h *Hub) ListPages(ctx context.Context, projectID string) ([]persist.Page, error) {
	return h.pages.ListPages(ctx, projectID)
}

// Snapshot returns the current document of a page: live when a room is
// open, otherwise as last persisted.
func (h *Hub) Snapshot(ctx context.Context, projectID, pageID string) (*store.Snapshot, error) {
	h.mu.Lock()
	r := h.rooms[roomKey(projectID, pageID)]
	h.mu.Unlock()

	if r != nil {
		var snap *store.Snapshot
		if r.do(func() { snap = r.store.Snapshot() }) {
			return snap, nil
		}
	}

	page, err := h.pages.Page(ctx, projectID, pageID)
	if err != nil {
		return nil, err
	}
	if page.Deleted() {
		return nil, errors.NewPageUnavailable(pageID)
	}
	snap, err := h.pages.LoadSnapshot(ctx, projectID, pageID)
	if err != nil || snap != nil {
		return snap, err
	}
	doc := store.New(pageID)
	doc.SetPageStyles(page.Styles)
	return doc.Snapshot(), nil
}

// room returns the open room of a page, loading it on first use.
func (h *Hub) room(ctx context.Context, projectID, pageID string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ctx.Err(); err != nil {
		return nil, errors.NewPageUnavailable(pageID)
	}
	key := roomKey(projectID, pageID)
	if r, ok := h.rooms[key]; ok {
		return r, nil
	}

	page, err := h.pages.Page(ctx, projectID, pageID)
	if err != nil {
		return nil, err
	}
	if page.Deleted() {
		return nil, errors.NewPageUnavailable(pageID)
	}

	doc := store.New(pageID, store.WithActor(HubActor), store.WithJournalSize(h.cfg.JournalSize))
	snap, err := h.pages.LoadSnapshot(ctx, projectID, pageID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := doc.ApplySnapshot(snap); err != nil {
			return nil, errors.NewStorageError("restore page snapshot", err).WithPage(pageID)
		}
	} else {
		doc.SetPageStyles(page.Styles)
	}

	r := newRoom(h, projectID, pageID, doc)
	h.rooms[key] = r
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.run(h.ctx)
	}()

	h.logger.Debug(ctx, "room opened", "project", projectID, "page", pageID, "seq", doc.Seq())
	return r, nil
}

// ServeConn runs one session connection until it drops. It returns once
// both directions have stopped.
func (h *Hub) ServeConn(ctx context.Context, conn transport.Conn, scope protocol.Scope) error {
	r, err := h.room(ctx, scope.ProjectID, scope.PageID)
	if err != nil {
		sendCtx, cancel := context.WithTimeout(ctx, writeWait)
		_ = conn.Send(sendCtx, protocol.Failure(scope, err))
		cancel()
		conn.Close()
		return err
	}

	c := &client{
		session: scope.SessionID,
		conn:    conn,
		send:    make(chan *protocol.Message, h.cfg.SendBuffer),
	}
	select {
	case r.register <- c:
	case <-r.done:
		conn.Close()
		return errors.NewPageUnavailable(scope.PageID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump(ctx)
	}()

	err = c.readPump(ctx, r, h.cfg.HeartbeatTimeout)

	select {
	case r.unregister <- c:
	case <-r.done:
	}
	cancel()
	<-written
	h.logger.Debug(ctx, "session left", "page", scope.PageID, "session", scope.SessionID, "reason", err)
	return nil
}

// Flush saves every room changed since the last flush.
func (h *Hub) Flush(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	var first error
	for _, r := range rooms {
		var snap *store.Snapshot
		take := func() {
			if r.dirty {
				snap = r.store.Snapshot()
				r.dirty = false
			}
		}
		if !r.do(take) {
			// The room has stopped; nothing else touches it now.
			take()
		}
		if snap == nil {
			continue
		}

		err := h.pages.SaveSnapshot(ctx, r.projectID, snap)
		if errors.Is(err, errors.ErrPageUnavailable) {
			continue
		}
		if err != nil {
			mark := func() { r.dirty = true }
			if !r.do(mark) {
				mark()
			}
			h.logger.Error(ctx, err, "flush failed", "project", r.projectID, "page", r.pageID)
			if first == nil {
				first = err
			}
			continue
		}
		h.logger.Debug(ctx, "page flushed", "project", r.projectID, "page", r.pageID, "seq", snap.Seq)
	}
	return first
}

// Close stops every room, drops their sessions and flushes what changed.
func (h *Hub) Close(ctx context.Context) error {
	h.cancel()
	h.wg.Wait()
	err := h.Flush(ctx)

	h.mu.Lock()
	h.rooms = make(map[string]*room)
	h.mu.Unlock()
	return err
}
