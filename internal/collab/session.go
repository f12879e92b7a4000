package collab

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/transport"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultResyncWindow      = 5 * time.Second
	DefaultResyncAttempts    = 5

	statusBuffer = 16
	noticeBuffer = 64
	// gapLimit bounds the out-of-order hub messages held back; past it the
	// session asks for a snapshot instead.
	gapLimit = 1024
)

// Notice reports an operation of this session the hub did not apply.
type Notice struct {
	Code   string
	Op     store.Operation
	Reason string
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Scope  protocol.Scope
	Store  *store.Store
	Dialer transport.Dialer
	// Retryer paces reconnects; DefaultBackoff when nil.
	Retryer Retryer
	// Gate is held while a snapshot replaces the document, so no local
	// intent interleaves with the swap. The dispatcher of the same store
	// is the usual gate.
	Gate sync.Locker

	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long the connection may stay silent before
	// the session reconnects.
	HeartbeatTimeout time.Duration
	ResyncWindow     time.Duration
	ResyncAttempts   int

	Logger logging.Logger
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// Session synchronizes one local document with the hub. It implements the
// dispatcher's outbound sink.
type Session struct {
	scope   protocol.Scope
	store   *store.Store
	dialer  transport.Dialer
	retryer Retryer
	gate    sync.Locker
	logger  logging.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	resyncWindow      time.Duration
	resyncAttempts    int

	mu      sync.Mutex
	state   State
	pending []store.Operation
	// resolved is the highest own origin sequence the hub has answered.
	resolved uint64
	lastSeq  uint64

	kick    chan struct{}
	status  chan State
	notices chan Notice

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession creates a session in the connecting state. Run starts it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Retryer == nil {
		cfg.Retryer = DefaultBackoff()
	}
	if cfg.Gate == nil {
		cfg.Gate = nopLocker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.ResyncWindow <= 0 {
		cfg.ResyncWindow = DefaultResyncWindow
	}
	if cfg.ResyncAttempts <= 0 {
		cfg.ResyncAttempts = DefaultResyncAttempts
	}

	return &Session{
		scope:             cfg.Scope,
		store:             cfg.Store,
		dialer:            cfg.Dialer,
		retryer:           cfg.Retryer,
		gate:              cfg.Gate,
		logger:            cfg.Logger.WithComponent("session").With("session", cfg.Scope.SessionID, "page", cfg.Scope.PageID),
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatTimeout:  cfg.HeartbeatTimeout,
		resyncWindow:      cfg.ResyncWindow,
		resyncAttempts:    cfg.ResyncAttempts,
		state:             StateConnecting,
		kick:              make(chan struct{}, 1),
		status:            make(chan State, statusBuffer),
		notices:           make(chan Notice, noticeBuffer),
		closed:            make(chan struct{}),
	}
}

// Enqueue implements dispatch.Outbound. The operation stays pending until
// the hub applies or rejects it.
func (s *Session) Enqueue(rec store.Record) {
	s.mu.Lock()
	s.pending = append(s.pending, rec.Op.Clone())
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status delivers state changes. Changes are dropped while the channel is
// full.
func (s *Session) Status() <-chan State {
	return s.status
}

// Notices delivers conflicts reported for this session's operations.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Pending returns the number of operations not yet answered by the hub.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LastSeq returns the last page sequence received from the hub.
func (s *Session) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Close stops Run.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Session) transitionTo(next State) error {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return nil
	}
	if err := s.state.validateTransitionTo(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "session state changed", "state", next)
	select {
	case s.status <- next:
	default:
	}
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Run connects and keeps the session synchronized until Close, context
// cancellation, page deletion or exhausted retries. Only the last two
// return an error.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		if s.isClosed() || ctx.Err() != nil {
			_ = s.transitionTo(StateClosed)
			return nil
		}

		var err error
		conn, dialErr := s.dialer.Dial(ctx, s.scope)
		if dialErr != nil {
			err = dialErr
		} else {
			var healthy bool
			healthy, err = s.serve(ctx, conn)
			conn.Close()
			if healthy {
				attempt = 0
				s.retryer.Reset()
			}
		}

		if s.isClosed() || ctx.Err() != nil {
			_ = s.transitionTo(StateClosed)
			return nil
		}
		if errors.Is(err, errors.ErrPageUnavailable) {
			_ = s.transitionTo(StatePageUnavailable)
			return err
		}
		if errors.Is(err, errors.ErrDisconnected) {
			_ = s.transitionTo(StateDisconnected)
			return err
		}

		delay, ok := s.retryer.NextDelay(attempt, err)
		if !ok {
			_ = s.transitionTo(StateDisconnected)
			return errors.NewDisconnected(err)
		}
		attempt++
		_ = s.transitionTo(StateReconnecting)
		s.logger.Warn(ctx, err, "connection lost, retrying", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		case <-s.closed:
			timer.Stop()
		}
	}
}

// checkpoint is the hub digest at a page sequence.
type checkpoint struct {
	seq    uint64
	digest uint32
}

// link is the state of one connection attempt. It is owned by serve.
type link struct {
	conn   transport.Conn
	opened bool
	// healthy is set once the hub answers a heartbeat after welcome. Only a
	// healthy link resets the reconnect attempts.
	healthy bool
	// sent counts the leading pending operations already sent on conn.
	sent       int
	gap        map[uint64]*protocol.Message
	checkpoint checkpoint

	resyncing     bool
	resyncAttempt int
	resyncTimer   *time.Timer
}

func (l *link) resyncC() <-chan time.Time {
	if l.resyncTimer == nil {
		return nil
	}
	return l.resyncTimer.C
}

func (l *link) stopResync() {
	if l.resyncTimer != nil {
		l.resyncTimer.Stop()
		l.resyncTimer = nil
	}
	l.resyncing = false
	l.resyncAttempt = 0
}

type received struct {
	msg *protocol.Message
	err error
}

func (s *Session) serve(ctx context.Context, conn transport.Conn) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := &link{conn: conn, gap: make(map[uint64]*protocol.Message)}
	defer l.stopResync()

	incoming := make(chan received, 1)
	go func() {
		for {
			m, err := conn.Receive(ctx)
			select {
			case incoming <- received{msg: m, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	s.mu.Lock()
	hello := protocol.Hello(s.scope, s.lastSeq, s.resolved)
	s.mu.Unlock()
	if err := s.send(ctx, l, hello); err != nil {
		return s.drain(ctx, l, incoming, err)
	}

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTimer(s.heartbeatTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.healthy, ctx.Err()

		case <-s.closed:
			return l.healthy, transport.ErrClosed

		case <-idle.C:
			return l.healthy, errors.NewProtocolError("no traffic from hub within heartbeat timeout")

		case <-heartbeat.C:
			if err := s.send(ctx, l, protocol.Heartbeat(s.scope, s.LastSeq())); err != nil {
				return l.healthy, err
			}

		case <-s.kick:
			if l.opened {
				if err := s.flush(ctx, l); err != nil {
					return l.healthy, err
				}
			}

		case <-l.resyncC():
			l.resyncAttempt++
			if l.resyncAttempt >= s.resyncAttempts {
				return l.healthy, errors.NewDisconnected(errors.NewProtocolError("resync request went unanswered"))
			}
			s.logger.Debug(ctx, "resync unanswered, asking again", "attempt", l.resyncAttempt)
			if err := s.send(ctx, l, protocol.ResyncRequest(s.scope, s.LastSeq())); err != nil {
				return l.healthy, err
			}
			l.resyncTimer = time.NewTimer(s.resyncWindow << l.resyncAttempt)

		case in := <-incoming:
			if in.err != nil {
				return l.healthy, in.err
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.heartbeatTimeout)

			if err := s.handle(ctx, l, in.msg); err != nil {
				return l.healthy, err
			}
		}
	}
}

// drain handles what the hub sent before the connection broke, such as
// the reason it was refused, and then reports cause.
func (s *Session) drain(ctx context.Context, l *link, incoming <-chan received, cause error) (bool, error) {
	timeout := time.NewTimer(s.heartbeatTimeout)
	defer timeout.Stop()
	for {
		select {
		case in := <-incoming:
			if in.err != nil {
				return l.healthy, cause
			}
			if err := s.handle(ctx, l, in.msg); err != nil {
				return l.healthy, err
			}
		case <-timeout.C:
			return l.healthy, cause
		case <-ctx.Done():
			return l.healthy, ctx.Err()
		}
	}
}

func (s *Session) send(ctx context.Context, l *link, m *protocol.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return l.conn.Send(sendCtx, m)
}

// flush sends every pending operation not yet sent on this connection.
func (s *Session) flush(ctx context.Context, l *link) error {
	for {
		s.mu.Lock()
		if l.sent >= len(s.pending) {
			s.mu.Unlock()
			return nil
		}
		op := s.pending[l.sent].Clone()
		s.mu.Unlock()

		if err := s.send(ctx, l, protocol.Proposal(s.scope, op)); err != nil {
			return err
		}
		l.sent++
	}
}

// resolve drops the pending operations up to origin sequence seq.
func (s *Session) resolve(l *link, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.resolved {
		s.resolved = seq
	}
	n := 0
	for n < len(s.pending) && s.pending[n].Origin.Seq <= seq {
		n++
	}
	if n == 0 {
		return
	}
	s.pending = append([]store.Operation(nil), s.pending[n:]...)
	l.sent -= n
	if l.sent < 0 {
		l.sent = 0
	}
}

func (s *Session) handle(ctx context.Context, l *link, m *protocol.Message) error {
	switch m.Kind {
	case protocol.KindWelcome:
		return s.welcome(ctx, l, m)

	case protocol.KindOp:
		s.receive(ctx, l, m)

	case protocol.KindAck:
		s.resolve(l, m.AckSeq)

	case protocol.KindConflict:
		s.conflict(ctx, l, m)

	case protocol.KindResyncSnapshot:
		return s.restore(ctx, l, m)

	case protocol.KindHeartbeat:
		if l.opened {
			l.healthy = true
		}

	case protocol.KindError:
		err := m.Err()
		if err == nil {
			return errors.NewProtocolError("hub reported an unspecified error")
		}
		if errors.Is(err, errors.ErrPageUnavailable) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeTransport, errors.ErrCodeProtocol, "hub reported an error")

	default:
		s.logger.Debug(ctx, "ignoring message", "kind", m.Kind)
	}
	return nil
}

func (s *Session) welcome(ctx context.Context, l *link, m *protocol.Message) error {
	s.resolve(l, m.AckSeq)
	l.sent = 0
	l.opened = true
	l.checkpoint = checkpoint{seq: m.Seq, digest: m.Digest}
	if err := s.transitionTo(StateOpen); err != nil {
		return err
	}
	s.logger.Info(ctx, "session open", "seq", m.Seq, "ack_seq", m.AckSeq, "pending", s.Pending())

	if err := s.flush(ctx, l); err != nil {
		return err
	}
	if s.LastSeq() == m.Seq {
		return s.verify(ctx, l, m.Seq, m.Digest)
	}
	return nil
}

// receive takes one applied record from the hub, in page sequence order.
func (s *Session) receive(ctx context.Context, l *link, m *protocol.Message) {
	last := s.LastSeq()
	if m.Seq <= last {
		return
	}
	if m.Seq > last+1 {
		if len(l.gap) >= gapLimit {
			_ = s.requestResync(ctx, l)
			return
		}
		l.gap[m.Seq] = m
		return
	}

	s.integrate(ctx, l, m)
	for {
		next, ok := l.gap[s.LastSeq()+1]
		if !ok {
			break
		}
		delete(l.gap, next.Seq)
		s.integrate(ctx, l, next)
	}
}

func (s *Session) integrate(ctx context.Context, l *link, m *protocol.Message) {
	op := *m.Op
	if op.Origin.Session == s.scope.SessionID && s.store.Watermark(op.Origin.Session) >= op.Origin.Seq {
		s.resolve(l, op.Origin.Seq)
		if err := s.store.Reconcile(op); err != nil {
			s.logger.Debug(ctx, "could not reconcile echo", "id", op.ID, "code", errors.Code(err))
		}
	} else {
		if op.Origin.Session == s.scope.SessionID {
			s.resolve(l, op.Origin.Seq)
		}
		if _, err := s.store.Apply(op); err != nil {
			s.logger.Debug(ctx, "remote operation rejected locally", "seq", m.Seq, "id", op.ID, "code", errors.Code(err))
		}
	}

	s.mu.Lock()
	s.lastSeq = m.Seq
	s.mu.Unlock()

	_ = s.verify(ctx, l, m.Seq, m.Digest)
}

// verify compares the local digest with the hub's once nothing local is
// in flight, and asks for a snapshot when they differ.
func (s *Session) verify(ctx context.Context, l *link, seq uint64, digest uint32) error {
	if s.Pending() > 0 || seq < l.checkpoint.seq {
		return nil
	}
	want := digest
	if seq == l.checkpoint.seq {
		want = l.checkpoint.digest
	}
	if s.store.Digest() == want {
		return nil
	}
	s.logger.Info(ctx, "document diverged from hub", "seq", seq)
	return s.requestResync(ctx, l)
}

func (s *Session) conflict(ctx context.Context, l *link, m *protocol.Message) {
	s.resolve(l, m.AckSeq)

	notice := Notice{Code: m.Code, Reason: m.Reason}
	if m.Op != nil {
		notice.Op = m.Op.Clone()
	}
	s.logger.Info(ctx, "operation rejected by hub", "code", m.Code, "origin_seq", m.AckSeq)
	select {
	case s.notices <- notice:
	default:
		s.logger.Warn(ctx, nil, "notice dropped", "code", m.Code)
	}

	if m.Seq == s.LastSeq() {
		_ = s.verify(ctx, l, m.Seq, m.Digest)
	}
}

func (s *Session) requestResync(ctx context.Context, l *link) error {
	if l.resyncing {
		return nil
	}
	l.resyncing = true
	l.resyncAttempt = 0
	l.resyncTimer = time.NewTimer(s.resyncWindow)
	return s.send(ctx, l, protocol.ResyncRequest(s.scope, s.LastSeq()))
}

// restore replaces the document with a hub snapshot, then replays the
// local operations the hub has not seen yet on top of it.
func (s *Session) restore(ctx context.Context, l *link, m *protocol.Message) error {
	s.gate.Lock()
	if err := s.store.ApplySnapshot(m.Snapshot); err != nil {
		s.gate.Unlock()
		return err
	}
	s.resolve(l, m.AckSeq)

	s.mu.Lock()
	replay := make([]store.Operation, len(s.pending))
	for i, op := range s.pending {
		replay[i] = op.Clone()
	}
	s.lastSeq = m.Snapshot.Seq
	s.mu.Unlock()

	for _, op := range replay {
		if _, err := s.store.Apply(op); err != nil {
			s.logger.Debug(ctx, "pending operation no longer applies", "origin_seq", op.Origin.Seq, "code", errors.Code(err))
		}
	}
	s.gate.Unlock()

	l.stopResync()
	l.checkpoint = checkpoint{seq: m.Snapshot.Seq, digest: m.Digest}
	for seq := range l.gap {
		if seq <= m.Snapshot.Seq {
			delete(l.gap, seq)
		}
	}
	s.logger.Info(ctx, "document restored from snapshot", "seq", m.Snapshot.Seq, "replayed", len(replay))

	for {
		next, ok := l.gap[s.LastSeq()+1]
		if !ok {
			break
		}
		delete(l.gap, next.Seq)
		s.integrate(ctx, l, next)
	}
	return s.flush(ctx, l)
}
