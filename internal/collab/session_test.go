package collab

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/conneroisu/pagecraft/internal/transport"
)

// scriptedHub answers every dial with a fake hub that welcomes the session
// and then behaves as configured.
type scriptedHub struct {
	digest           uint32
	answerHeartbeats bool

	dials   atomic.Int32
	resyncs atomic.Int32
}

func (h *scriptedHub) Dial(_ context.Context, scope protocol.Scope) (transport.Conn, error) {
	h.dials.Add(1)
	client, server := transport.Pipe()
	go h.serve(server, scope)
	return client, nil
}

func (h *scriptedHub) serve(conn transport.Conn, scope protocol.Scope) {
	ctx := context.Background()
	for {
		m, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		switch m.Kind {
		case protocol.KindHello:
			_ = conn.Send(ctx, protocol.Welcome(scope, 0, 0, h.digest))
		case protocol.KindHeartbeat:
			if h.answerHeartbeats {
				_ = conn.Send(ctx, protocol.Heartbeat(scope, 0))
			}
		case protocol.KindResyncRequest:
			h.resyncs.Add(1)
		}
	}
}

func TestSessionTimeouts(t *testing.T) {
	empty := store.New(page).Digest()

	tests := []struct {
		name        string
		hub         *scriptedHub
		cfg         SessionConfig
		wantDials   int32
		wantResyncs int32
	}{
		{
			name: "silent hub after welcome counts toward retry limit",
			hub:  &scriptedHub{digest: empty},
			cfg: SessionConfig{
				Retryer:           &FixedDelay{Delay: time.Millisecond, MaxAttempts: 2},
				HeartbeatInterval: 10 * time.Millisecond,
				HeartbeatTimeout:  30 * time.Millisecond,
			},
			wantDials: 3,
		},
		{
			name: "unanswered resync request gives up after the configured attempts",
			hub:  &scriptedHub{digest: empty + 1, answerHeartbeats: true},
			cfg: SessionConfig{
				Retryer:           &FixedDelay{Delay: time.Millisecond, MaxAttempts: 2},
				HeartbeatInterval: 10 * time.Millisecond,
				HeartbeatTimeout:  time.Second,
				ResyncWindow:      10 * time.Millisecond,
				ResyncAttempts:    3,
			},
			wantDials:   1,
			wantResyncs: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Scope = protocol.Scope{ProjectID: project, PageID: page, SessionID: "s"}
			cfg.Store = store.New(page)
			cfg.Dialer = tt.hub
			sess := NewSession(cfg)

			done := make(chan error, 1)
			go func() { done <- sess.Run(context.Background()) }()

			select {
			case err := <-done:
				assert.True(t, errors.Is(err, errors.ErrDisconnected), "got %v", err)
			case <-time.After(waitFor):
				sess.Close()
				<-done
				t.Fatalf("session still running after %d dials", tt.hub.dials.Load())
			}

			assert.Equal(t, StateDisconnected, sess.State())
			assert.Equal(t, tt.wantDials, tt.hub.dials.Load())
			assert.Equal(t, tt.wantResyncs, tt.hub.resyncs.Load())
		})
	}
}

func TestAnsweredHeartbeatsKeepSessionOpen(t *testing.T) {
	hub := &scriptedHub{digest: store.New(page).Digest(), answerHeartbeats: true}
	sess := NewSession(SessionConfig{
		Scope:             protocol.Scope{ProjectID: project, PageID: page, SessionID: "s"},
		Store:             store.New(page),
		Dialer:            hub,
		Retryer:           &FixedDelay{Delay: time.Millisecond, MaxAttempts: 1},
		HeartbeatInterval: 10 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	t.Cleanup(func() {
		sess.Close()
		<-done
	})

	require.Eventually(t, func() bool { return sess.State() == StateOpen }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateOpen, sess.State())
	assert.Equal(t, int32(1), hub.dials.Load())
}
