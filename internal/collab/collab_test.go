package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagecraft/internal/builder"
	"github.com/conneroisu/pagecraft/internal/dispatch"
	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/persist"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/transport"
)

const (
	project = "acme"
	page    = "landing"

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// switchDialer connects to a hub over in-memory pipes and can be taken
// offline to simulate a network cut.
type switchDialer struct {
	hub *Hub

	mu      sync.Mutex
	offline bool
	conn    transport.Conn
}

func (d *switchDialer) Dial(_ context.Context, scope protocol.Scope) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return nil, errors.New("network unreachable")
	}
	client, server := transport.Pipe()
	go d.hub.ServeConn(context.Background(), server, scope)
	d.conn = client
	return client, nil
}

func (d *switchDialer) cut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = true
	if d.conn != nil {
		d.conn.Close()
	}
}

func (d *switchDialer) restore() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = false
}

type peer struct {
	id     string
	store  *store.Store
	disp   *dispatch.Dispatcher
	sess   *Session
	dialer *switchDialer
	done   chan error
}

func newTestHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	if cfg.Pages == nil {
		cfg.Pages = persist.NewMemory()
	}
	hub := NewHub(cfg)
	require.NoError(t, hub.CreatePage(context.Background(), persist.Page{ProjectID: project, ID: page}))
	t.Cleanup(func() { hub.Close(context.Background()) })
	return hub
}

func startPeer(t *testing.T, hub *Hub, id string) *peer {
	t.Helper()
	doc := store.New(page)
	d := dispatch.New(dispatch.Config{
		Session: id,
		Store:   doc,
		Builder: builder.New(&builder.SequenceSource{Prefix: id + "-"}),
	})
	dialer := &switchDialer{hub: hub}
	sess := NewSession(SessionConfig{
		Scope:             protocol.Scope{ProjectID: project, PageID: page, SessionID: id},
		Store:             doc,
		Dialer:            dialer,
		Retryer:           &FixedDelay{Delay: tick},
		Gate:              d,
		HeartbeatInterval: 50 * time.Millisecond,
		ResyncWindow:      200 * time.Millisecond,
	})
	d.SetOutbound(sess)

	p := &peer{id: id, store: doc, disp: d, sess: sess, dialer: dialer, done: make(chan error, 1)}
	go func() { p.done <- sess.Run(context.Background()) }()
	t.Cleanup(func() {
		sess.Close()
		<-p.done
	})

	require.Eventually(t, func() bool { return sess.State() == StateOpen }, waitFor, tick)
	return p
}

func hubDigest(hub *Hub) (uint32, bool) {
	snap, err := hub.Snapshot(context.Background(), project, page)
	if err != nil {
		return 0, false
	}
	doc := store.New(page)
	if err := doc.ApplySnapshot(snap); err != nil {
		return 0, false
	}
	return doc.Digest(), true
}

func synced(hub *Hub, peers ...*peer) func() bool {
	return func() bool {
		want, ok := hubDigest(hub)
		if !ok {
			return false
		}
		for _, p := range peers {
			if p.sess.Pending() != 0 || p.store.Digest() != want {
				return false
			}
		}
		return true
	}
}

func parentOf(doc *store.Store, id string) string {
	el, err := doc.Get(id)
	if err != nil {
		return "<missing>"
	}
	return el.ParentID
}

func childIDs(t *testing.T, doc *store.Store, parent string) []string {
	t.Helper()
	children, err := doc.ChildrenOf(parent)
	require.NoError(t, err)
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

func TestSessionsConverge(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{})
	a := startPeer(t, hub, "a")
	b := startPeer(t, hub, "b")

	_, err := a.disp.InsertElement(ctx, element.New("C", element.KindContainer), "", -1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return parentOf(b.store, "C") == "" }, waitFor, tick)

	_, err = a.disp.InsertElement(ctx, element.New("X", element.KindText), "C", 0)
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a, b), waitFor, tick)

	_, err = b.disp.InsertElement(ctx, element.New("Y", element.KindText), "C", 0)
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a, b), waitFor, tick)

	assert.Equal(t, []string{"Y", "X"}, childIDs(t, a.store, "C"))
	assert.Equal(t, []string{"Y", "X"}, childIDs(t, b.store, "C"))

	_, err = b.disp.UpdateAttributes(ctx, "X", element.Patch{Content: element.StringPtr("hello")})
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	x, err := a.store.Get("X")
	require.NoError(t, err)
	assert.Equal(t, "hello", x.Content)

	_, err = a.disp.Delete(ctx, "C", true)
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	_, err = b.store.Get("X")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStaleMoveIsSupersededAndConverges(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{})
	a := startPeer(t, hub, "a")
	b := startPeer(t, hub, "b")

	for _, el := range []*element.Element{
		element.New("F", element.KindContainer),
		element.New("G", element.KindContainer),
		element.New("E", element.KindText),
	} {
		_, err := a.disp.InsertElement(ctx, el, "", -1)
		require.NoError(t, err)
	}
	require.Eventually(t, synced(hub, a, b), waitFor, tick)

	b.dialer.cut()
	require.Eventually(t, func() bool { return b.sess.State() == StateReconnecting }, waitFor, tick)

	_, err := b.disp.MoveTo(ctx, "E", "G", -1)
	require.NoError(t, err)
	assert.Equal(t, "G", parentOf(b.store, "E"))

	_, err = a.disp.UpdateAttributes(ctx, "F", element.Patch{Content: element.StringPtr("target")})
	require.NoError(t, err)
	_, err = a.disp.MoveTo(ctx, "E", "F", -1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := hub.Snapshot(ctx, project, page)
		return err == nil && snap.Seq == 5
	}, waitFor, tick)

	b.dialer.restore()

	select {
	case n := <-b.sess.Notices():
		assert.Equal(t, errors.ErrCodeSuperseded, n.Code)
		assert.Equal(t, store.OpMove, n.Op.Kind)
		assert.Equal(t, "E", n.Op.ID)
	case <-time.After(waitFor):
		t.Fatal("no conflict notice for the stale move")
	}

	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	assert.Equal(t, "F", parentOf(a.store, "E"))
	assert.Equal(t, "F", parentOf(b.store, "E"))
}

func TestReconnectReplaysMissedOperations(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{})
	a := startPeer(t, hub, "a")
	b := startPeer(t, hub, "b")

	b.dialer.cut()
	require.Eventually(t, func() bool { return b.sess.State() == StateReconnecting }, waitFor, tick)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := a.disp.InsertElement(ctx, element.New(id, element.KindSection), "", -1)
		require.NoError(t, err)
	}
	_, err := b.disp.InsertElement(ctx, element.New("mine", element.KindText), "", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.sess.Pending())

	b.dialer.restore()
	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	assert.Equal(t, uint64(4), b.sess.LastSeq())
	assert.Len(t, childIDs(t, a.store, ""), 4)
}

func TestLargeGapFallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{MaxReplayGap: 1})
	a := startPeer(t, hub, "a")
	b := startPeer(t, hub, "b")

	b.dialer.cut()
	require.Eventually(t, func() bool { return b.sess.State() == StateReconnecting }, waitFor, tick)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := a.disp.InsertElement(ctx, element.New(id, element.KindSection), "", -1)
		require.NoError(t, err)
	}
	_, err := b.disp.InsertElement(ctx, element.New("t1", element.KindText), "", 0)
	require.NoError(t, err)

	b.dialer.restore()
	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3", "t1"}, childIDs(t, b.store, ""))
}

func TestDivergenceTriggersResync(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{})
	a := startPeer(t, hub, "a")
	b := startPeer(t, hub, "b")

	_, err := a.disp.InsertElement(ctx, element.New("C", element.KindContainer), "", -1)
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a, b), waitFor, tick)

	// A change that never went through the hub.
	_, err = b.store.Apply(store.Operation{
		Kind:    store.OpInsert,
		ID:      "stray",
		Element: element.New("stray", element.KindText),
		Origin:  store.Origin{Session: "rogue", Seq: 1, Clock: 1},
	})
	require.NoError(t, err)

	_, err = a.disp.UpdateAttributes(ctx, "C", element.Patch{Content: element.StringPtr("x")})
	require.NoError(t, err)

	require.Eventually(t, synced(hub, a, b), waitFor, tick)
	_, err = b.store.Get("stray")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeletePageEndsSessions(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, HubConfig{})
	a := startPeer(t, hub, "a")

	require.NoError(t, hub.DeletePage(ctx, project, page))

	select {
	case err := <-a.done:
		assert.True(t, errors.Is(err, errors.ErrPageUnavailable), "got %v", err)
		a.done <- err
	case <-time.After(waitFor):
		t.Fatal("session kept running on a deleted page")
	}
	assert.Equal(t, StatePageUnavailable, a.sess.State())

	late := NewSession(SessionConfig{
		Scope:   protocol.Scope{ProjectID: project, PageID: page, SessionID: "late"},
		Store:   store.New(page),
		Dialer:  &switchDialer{hub: hub},
		Retryer: &FixedDelay{Delay: tick, MaxAttempts: 1},
	})
	err := late.Run(ctx)
	assert.True(t, errors.Is(err, errors.ErrPageUnavailable), "got %v", err)
	assert.Equal(t, StatePageUnavailable, late.State())

	pages, err := hub.ListPages(ctx, project)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Deleted())
}

func TestSessionGivesUpAfterRetries(t *testing.T) {
	dialer := transport.DialerFunc(func(context.Context, protocol.Scope) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	})
	sess := NewSession(SessionConfig{
		Scope:   protocol.Scope{ProjectID: project, PageID: page, SessionID: "lonely"},
		Store:   store.New(page),
		Dialer:  dialer,
		Retryer: &FixedDelay{Delay: time.Millisecond, MaxAttempts: 3},
	})

	err := sess.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrDisconnected), "got %v", err)
	assert.Equal(t, StateDisconnected, sess.State())

	var seen []State
	for len(sess.Status()) > 0 {
		seen = append(seen, <-sess.Status())
	}
	assert.Equal(t, []State{StateReconnecting, StateDisconnected}, seen)
}

func TestSessionCloseStopsRun(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	p := startPeer(t, hub, "a")
	p.sess.Close()

	select {
	case err := <-p.done:
		assert.NoError(t, err)
		p.done <- err
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateClosed, p.sess.State())
}

func TestFlushAndRestore(t *testing.T) {
	ctx := context.Background()
	pages := persist.NewMemory()
	hub := newTestHub(t, HubConfig{Pages: pages})
	a := startPeer(t, hub, "a")

	_, err := a.disp.InsertElement(ctx, element.New("hero", element.KindSection), "", -1)
	require.NoError(t, err)
	require.Eventually(t, synced(hub, a), waitFor, tick)

	require.NoError(t, hub.Flush(ctx))
	snap, err := pages.LoadSnapshot(ctx, project, page)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Seq)

	restarted := NewHub(HubConfig{Pages: pages})
	t.Cleanup(func() { restarted.Close(context.Background()) })
	b := startPeer(t, restarted, "b")
	require.Eventually(t, synced(restarted, b), waitFor, tick)
	assert.Equal(t, []string{"hero"}, childIDs(t, b.store, ""))
}

func TestScheduleFlush(t *testing.T) {
	hub := newTestHub(t, HubConfig{})

	_, err := hub.ScheduleFlush(context.Background(), "every now and then")
	assert.Error(t, err)

	c, err := hub.ScheduleFlush(context.Background(), "@every 1h")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}

// rawClient speaks the protocol directly to a hub.
type rawClient struct {
	t     *testing.T
	conn  transport.Conn
	scope protocol.Scope
}

func dialRaw(t *testing.T, hub *Hub, session string) *rawClient {
	t.Helper()
	client, server := transport.Pipe()
	scope := protocol.Scope{ProjectID: project, PageID: page, SessionID: session}
	go hub.ServeConn(context.Background(), server, scope)
	t.Cleanup(func() { client.Close() })

	c := &rawClient{t: t, conn: client, scope: scope}
	c.send(protocol.Hello(scope, 0, 0))
	assert.Equal(t, protocol.KindWelcome, c.receive().Kind)
	return c
}

func (c *rawClient) send(m *protocol.Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.Send(context.Background(), m))
}

func (c *rawClient) receive() *protocol.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	m, err := c.conn.Receive(ctx)
	require.NoError(c.t, err)
	return m
}

func (c *rawClient) quiet() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.conn.Receive(ctx)
	return errors.Is(err, context.DeadlineExceeded)
}

func insertOp(session string, seq uint64, id string) store.Operation {
	return store.Operation{
		Kind:     store.OpInsert,
		ID:       id,
		Position: store.Append(),
		Element:  element.New(id, element.KindSection),
		Origin:   store.Origin{Session: session, Seq: seq, Clock: seq},
	}
}

func TestHubOrdersAndDeduplicatesProposals(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	c := dialRaw(t, hub, "raw")

	c.send(protocol.Proposal(c.scope, insertOp("raw", 1, "one")))
	m := c.receive()
	require.Equal(t, protocol.KindOp, m.Kind)
	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, "raw", m.SessionID)

	c.send(protocol.Proposal(c.scope, insertOp("raw", 1, "one")))
	m = c.receive()
	assert.Equal(t, protocol.KindAck, m.Kind)
	assert.Equal(t, uint64(1), m.AckSeq)

	c.send(protocol.Proposal(c.scope, insertOp("raw", 3, "three")))
	assert.True(t, c.quiet(), "out-of-order proposal is held back")

	c.send(protocol.Proposal(c.scope, insertOp("raw", 2, "two")))
	m = c.receive()
	assert.Equal(t, "two", m.Op.ID)
	assert.Equal(t, uint64(2), m.Seq)
	m = c.receive()
	assert.Equal(t, "three", m.Op.ID)
	assert.Equal(t, uint64(3), m.Seq)
}

func TestHubSendsConflictsToOriginOnly(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	origin := dialRaw(t, hub, "x")
	other := dialRaw(t, hub, "y")

	bad := store.Operation{
		Kind:     store.OpMove,
		ID:       "ghost",
		Position: store.Append(),
		Origin:   store.Origin{Session: "x", Seq: 1, Clock: 1},
	}
	origin.send(protocol.Proposal(origin.scope, bad))

	m := origin.receive()
	require.Equal(t, protocol.KindConflict, m.Kind)
	assert.Equal(t, errors.ErrCodeNotFound, m.Code)
	assert.Equal(t, uint64(1), m.AckSeq)
	assert.True(t, errors.Is(m.Err(), errors.ErrNotFound))
	assert.True(t, other.quiet())

	origin.send(protocol.Proposal(origin.scope, insertOp("x", 2, "real")))
	for _, c := range []*rawClient{origin, other} {
		m := c.receive()
		assert.Equal(t, protocol.KindOp, m.Kind)
		assert.Equal(t, uint64(1), m.Seq)
		assert.Equal(t, "real", m.Op.ID)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	c := dialRaw(t, hub, "honest")

	c.send(protocol.Proposal(c.scope, insertOp("someone-else", 1, "x")))
	m := c.receive()
	assert.Equal(t, protocol.KindError, m.Kind)
	assert.Equal(t, errors.ErrCodeProtocol, m.Code)

	c.send(protocol.Heartbeat(c.scope, 0))
	assert.Equal(t, protocol.KindHeartbeat, c.receive().Kind)
}

func TestHubResyncRequest(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	c := dialRaw(t, hub, "raw")
	c.send(protocol.Proposal(c.scope, insertOp("raw", 1, "one")))
	c.receive()

	c.send(protocol.ResyncRequest(c.scope, 0))
	m := c.receive()
	require.Equal(t, protocol.KindResyncSnapshot, m.Kind)
	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, uint64(1), m.AckSeq)
	require.Len(t, m.Snapshot.Elements, 1)
	assert.Equal(t, "one", m.Snapshot.Elements[0].ID)
}

func TestHubRefusesRequestsBeforeHello(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	seed := dialRaw(t, hub, "seed")
	seed.send(protocol.Proposal(seed.scope, insertOp("seed", 1, "secret")))
	seed.receive()

	tests := []struct {
		name string
		msg  func(protocol.Scope) *protocol.Message
	}{
		{name: "op", msg: func(s protocol.Scope) *protocol.Message { return protocol.Proposal(s, insertOp(s.SessionID, 1, "x")) }},
		{name: "resync", msg: func(s protocol.Scope) *protocol.Message { return protocol.ResyncRequest(s, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := transport.Pipe()
			scope := protocol.Scope{ProjectID: project, PageID: page, SessionID: "early-" + tt.name}
			go hub.ServeConn(context.Background(), server, scope)
			t.Cleanup(func() { client.Close() })
			c := &rawClient{t: t, conn: client, scope: scope}

			c.send(tt.msg(scope))
			m := c.receive()
			assert.Equal(t, protocol.KindError, m.Kind)
			assert.Equal(t, errors.ErrCodeProtocol, m.Code)
			assert.Nil(t, m.Snapshot)

			c.send(protocol.Hello(scope, 0, 0))
			assert.Equal(t, protocol.KindWelcome, c.receive().Kind)
		})
	}
}

func TestUnknownPageIsUnavailable(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	client, server := transport.Pipe()

	err := hub.ServeConn(context.Background(), server, protocol.Scope{ProjectID: project, PageID: "nope", SessionID: "s"})
	assert.True(t, errors.Is(err, errors.ErrPageUnavailable))

	m, err := client.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.KindError, m.Kind)
	assert.Equal(t, errors.ErrCodePageUnavailable, m.Code)
}

func pageDoc(t *testing.T, hub *Hub, pageID string) *store.Store {
	t.Helper()
	snap, err := hub.Snapshot(context.Background(), project, pageID)
	require.NoError(t, err)
	doc := store.New(pageID)
	require.NoError(t, doc.ApplySnapshot(snap))
	return doc
}

func TestMoveAcrossPages(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		parentID   string
		deleteDest bool
		wantErr    error
	}{
		{name: "subtree lands on target page", target: "pricing"},
		{name: "refused insert restores source", target: "pricing", parentID: "missing", wantErr: errors.ErrInvalidParent},
		{name: "deleted target page", target: "pricing", deleteDest: true, wantErr: errors.ErrPageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			hub := newTestHub(t, HubConfig{})
			require.NoError(t, hub.CreatePage(ctx, persist.Page{ProjectID: project, ID: "pricing"}))

			c := dialRaw(t, hub, "raw")
			c.send(protocol.Proposal(c.scope, insertOp("raw", 1, "hero")))
			c.send(protocol.Proposal(c.scope, insertOp("raw", 2, "footer")))
			c.send(protocol.Proposal(c.scope, store.Operation{
				Kind:     store.OpInsert,
				ID:       "title",
				ParentID: "hero",
				Position: store.Append(),
				Element:  element.New("title", element.KindText),
				Origin:   store.Origin{Session: "raw", Seq: 3, Clock: 3},
			}))
			for range 3 {
				require.Equal(t, protocol.KindOp, c.receive().Kind)
			}
			if tt.deleteDest {
				require.NoError(t, hub.DeletePage(ctx, project, tt.target))
			}

			err := hub.MoveAcrossPages(ctx, project, page, tt.target, "hero", tt.parentID, -1)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				src := pageDoc(t, hub, page)
				assert.Equal(t, []string{"hero", "footer"}, childIDs(t, src, ""))
				assert.Equal(t, []string{"title"}, childIDs(t, src, "hero"))
				return
			}
			require.NoError(t, err)

			m := c.receive()
			require.Equal(t, protocol.KindOp, m.Kind)
			assert.Equal(t, store.OpDelete, m.Op.Kind)

			src := pageDoc(t, hub, page)
			assert.Equal(t, []string{"footer"}, childIDs(t, src, ""))

			dst := pageDoc(t, hub, tt.target)
			assert.Equal(t, []string{"hero"}, childIDs(t, dst, ""))
			title, err := dst.Get("title")
			require.NoError(t, err)
			assert.Equal(t, tt.target, title.PageID)
			assert.Equal(t, "hero", title.ParentID)
		})
	}
}
