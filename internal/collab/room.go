package collab

import (
	"context"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/transport"
)

// client is one connection inside a room.
type client struct {
	session string
	conn    transport.Conn
	send    chan *protocol.Message
	// joined is set once the session said hello; broadcasts skip it until then.
	joined bool
}

type inbound struct {
	client *client
	msg    *protocol.Message
}

// room owns the document of one page. Everything but the channels is
// touched only by the run goroutine.
type room struct {
	projectID string
	pageID    string
	scope     protocol.Scope
	store     *store.Store
	logger    logging.Logger

	maxReplayGap uint64
	reorderLimit int

	register   chan *client
	unregister chan *client
	inbound    chan inbound
	control    chan func()
	done       chan struct{}

	clients map[*client]bool
	seqs    map[string]*sequencer
	dirty   bool
	stopped bool
}

func newRoom(h *Hub, projectID, pageID string, doc *store.Store) *room {
	return &room{
		projectID:    projectID,
		pageID:       pageID,
		scope:        protocol.Scope{ProjectID: projectID, PageID: pageID},
		store:        doc,
		logger:       h.logger.With("project", projectID, "page", pageID),
		maxReplayGap: h.cfg.MaxReplayGap,
		reorderLimit: h.cfg.ReorderLimit,
		register:     make(chan *client),
		unregister:   make(chan *client),
		inbound:      make(chan inbound, h.cfg.SendBuffer),
		control:      make(chan func()),
		done:         make(chan struct{}),
		clients:      make(map[*client]bool),
		seqs:         make(map[string]*sequencer),
	}
}

func (r *room) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		for c := range r.clients {
			r.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-r.register:
			r.clients[c] = true
			r.logger.Debug(ctx, "session connected", "session", c.session, "clients", len(r.clients))

		case c := <-r.unregister:
			if r.clients[c] {
				r.drop(c)
				r.logger.Debug(ctx, "session disconnected", "session", c.session, "clients", len(r.clients))
			}

		case in := <-r.inbound:
			if r.clients[in.client] {
				r.handle(ctx, in.client, in.msg)
			}

		case fn := <-r.control:
			fn()
			if r.stopped {
				return
			}
		}
	}
}

// do runs fn on the room goroutine and waits for it. It reports false when
// the room has already stopped.
func (r *room) do(fn func()) bool {
	finished := make(chan struct{})
	step := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.control <- step:
		<-finished
		return true
	case <-r.done:
		return false
	}
}

// shutdown tells every session why the room is going away and stops it.
func (r *room) shutdown(reason error) {
	for c := range r.clients {
		r.sendTo(c, protocol.Failure(r.scope, reason))
		r.drop(c)
	}
	r.stopped = true
}

func (r *room) drop(c *client) {
	delete(r.clients, c)
	close(c.send)
}

// sendTo queues m for c; a client that cannot keep up is dropped.
func (r *room) sendTo(c *client, m *protocol.Message) {
	if !r.clients[c] {
		return
	}
	select {
	case c.send <- m:
	default:
		r.logger.Warn(context.Background(), nil, "send buffer full, dropping session", "session", c.session)
		r.drop(c)
	}
}

func (r *room) broadcast(m *protocol.Message) {
	for c := range r.clients {
		if c.joined {
			r.sendTo(c, m)
		}
	}
}

func (r *room) sequencer(session string) *sequencer {
	q, ok := r.seqs[session]
	if !ok {
		q = newSequencer(r.store.Watermark(session), r.reorderLimit)
		r.seqs[session] = q
	}
	return q
}

func (r *room) handle(ctx context.Context, c *client, m *protocol.Message) {
	switch m.Kind {
	case protocol.KindHello:
		r.hello(ctx, c, m)

	case protocol.KindOp:
		if !c.joined {
			r.sendTo(c, protocol.Failure(r.scope, errors.NewProtocolError("op before hello")))
			return
		}
		r.propose(ctx, c, m.Op.Clone())

	case protocol.KindResyncRequest:
		if !c.joined {
			r.sendTo(c, protocol.Failure(r.scope, errors.NewProtocolError("resync before hello")))
			return
		}
		r.sendTo(c, protocol.ResyncSnapshot(r.scope, r.store.Snapshot(), r.sequencer(c.session).delivered, r.store.Digest()))

	case protocol.KindHeartbeat:
		r.sendTo(c, protocol.Heartbeat(r.scope, r.store.Seq()))

	case protocol.KindAck:
		r.logger.Debug(ctx, "session ack", "session", c.session, "ack_seq", m.AckSeq)

	default:
		r.sendTo(c, protocol.Failure(r.scope, errors.NewProtocolError("unexpected "+string(m.Kind)+" from session")))
	}
}

func (r *room) hello(ctx context.Context, c *client, m *protocol.Message) {
	if m.ProjectID != r.projectID || m.PageID != r.pageID || m.SessionID != c.session {
		r.sendTo(c, protocol.Failure(r.scope, errors.NewProtocolError("hello does not match the connection scope")))
		r.drop(c)
		return
	}
	c.joined = true

	q := r.sequencer(c.session)
	for _, op := range q.advance(m.AckSeq) {
		r.apply(ctx, c, op)
	}

	seq := r.store.Seq()
	digest := r.store.Digest()
	welcome := protocol.Welcome(r.scope, seq, q.delivered, digest)
	welcome.SessionID = c.session

	if m.LastSeq <= seq && seq-m.LastSeq <= r.maxReplayGap {
		if records, ok := r.store.Journal(m.LastSeq); ok {
			r.sendTo(c, welcome)
			for _, rec := range records {
				r.sendTo(c, protocol.Applied(r.scope, rec, digest))
			}
			r.logger.Debug(ctx, "session resumed", "session", c.session, "from", m.LastSeq, "replayed", len(records))
			return
		}
	}

	r.sendTo(c, welcome)
	r.sendTo(c, protocol.ResyncSnapshot(r.scope, r.store.Snapshot(), q.delivered, digest))
	r.logger.Debug(ctx, "session joined from snapshot", "session", c.session, "last_seq", m.LastSeq, "seq", seq)
}

func (r *room) propose(ctx context.Context, c *client, op store.Operation) {
	if op.Origin.Session != c.session {
		r.sendTo(c, protocol.Failure(r.scope, errors.NewProtocolError("operation origin does not match the session")))
		return
	}

	q := r.sequencer(c.session)
	ready, dup, err := q.offer(op)
	if err != nil {
		r.logger.Warn(ctx, err, "reorder buffer overflow", "session", c.session)
		r.sendTo(c, protocol.Failure(r.scope, err))
		r.drop(c)
		return
	}
	if dup {
		r.sendTo(c, protocol.Ack(r.scope, q.delivered))
		return
	}
	for _, next := range ready {
		r.apply(ctx, c, next)
	}
}

// apply runs one ordered proposal against the page document. Applied
// records go to every joined session, the origin included; rejections go
// back to the origin only.
func (r *room) apply(ctx context.Context, c *client, op store.Operation) {
	rec, err := r.store.Apply(op)
	if err != nil {
		if errors.IsRecoverable(err) {
			r.logger.Debug(ctx, "operation rejected",
				"session", op.Origin.Session, "origin_seq", op.Origin.Seq, "op", op.Kind, "id", op.ID, "code", errors.Code(err))
		} else {
			r.logger.Warn(ctx, err, "operation failed", "session", op.Origin.Session, "op", op.Kind, "id", op.ID)
		}
		r.sendTo(c, protocol.Conflict(r.scope, op, err, r.store.Seq(), r.store.Digest()))
		return
	}
	if rec == nil {
		r.sendTo(c, protocol.Ack(r.scope, op.Origin.Seq))
		return
	}

	r.publish(rec)
}

// publish marks the room dirty and sends an applied record to every joined
// session.
func (r *room) publish(rec *store.Record) {
	r.dirty = true
	r.broadcast(protocol.Applied(r.scope, *rec, r.store.Digest()))
}

func (c *client) writePump(ctx context.Context) {
	defer c.conn.Close()
	for m := range c.send {
		sendCtx, cancel := context.WithTimeout(ctx, writeWait)
		err := c.conn.Send(sendCtx, m)
		cancel()
		if err != nil {
			// Keep draining so the room never blocks on this client.
			c.conn.Close()
		}
	}
}

func (c *client) readPump(ctx context.Context, r *room, timeout time.Duration) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		m, err := c.conn.Receive(readCtx)
		cancel()
		if err != nil {
			return err
		}

		select {
		case r.inbound <- inbound{client: c, msg: m}:
		case <-r.done:
			return errors.NewPageUnavailable(r.pageID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
