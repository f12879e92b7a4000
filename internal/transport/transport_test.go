package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scope = protocol.Scope{ProjectID: "acme", PageID: "landing", SessionID: "01HX"}

func TestPipeDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, a.Send(ctx, protocol.Heartbeat(scope, i)))
	}
	for i := uint64(1); i <= 3; i++ {
		m, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, protocol.KindHeartbeat, m.Kind)
		assert.Equal(t, i, m.Seq)
	}

	require.NoError(t, b.Send(ctx, protocol.Ack(scope, 9)))
	m, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), m.AckSeq)
}

func TestPipeClose(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, a.Send(ctx, protocol.Heartbeat(scope, 1)), ErrClosed)
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeDrainsBeforeClose(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()
	require.NoError(t, a.Send(ctx, protocol.Heartbeat(scope, 7)))
	require.NoError(t, a.Close())

	m, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.Seq)

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeReceiveHonorsContext(t *testing.T) {
	a, _ := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScopeURLAndParse(t *testing.T) {
	raw, err := ScopeURL("http://localhost:8080/", scope)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/acme/landing?session=01HX", raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	parsed, err := ParseScope(u)
	require.NoError(t, err)
	assert.Equal(t, scope, parsed)

	_, err = ScopeURL("ftp://host", scope)
	assert.Error(t, err)

	for _, bad := range []string{"/other/acme/landing?session=x", "/ws/acme?session=x", "/ws/acme/landing"} {
		u, _ := url.Parse(bad)
		_, err := ParseScope(u)
		assert.Equal(t, errors.ErrCodeProtocol, errors.Code(err), bad)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	accepted := make(chan protocol.Scope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, sc, err := Accept(w, r, AcceptOptions{})
		if err != nil {
			return
		}
		defer conn.Close()
		accepted <- sc

		ctx := r.Context()
		for {
			m, err := conn.Receive(ctx)
			if err != nil {
				return
			}
			if err := conn.Send(ctx, protocol.Ack(sc, m.Seq)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := &WebSocketDialer{BaseURL: srv.URL}
	conn, err := dialer.Dial(ctx, scope)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, protocol.Heartbeat(scope, 5)))
	reply, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindAck, reply.Kind)
	assert.Equal(t, uint64(5), reply.AckSeq)
	assert.Equal(t, scope, <-accepted)
}

func TestAcceptRejectsBadPath(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/only-project", nil)
	_, _, err := Accept(rec, req, AcceptOptions{})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
