// Package transport moves protocol messages over a bidirectional
// connection bound to one (project, page, session) scope.
package transport

import (
	"context"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/protocol"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one message channel between a session and the hub.
type Conn interface {
	Send(ctx context.Context, m *protocol.Message) error
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error
}

// Dialer opens connections for a scope.
type Dialer interface {
	Dial(ctx context.Context, scope protocol.Scope) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, scope protocol.Scope) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, scope protocol.Scope) (Conn, error) {
	return f(ctx, scope)
}
