package transport

import (
	"context"
	"sync"

	"github.com/conneroisu/pagecraft/internal/protocol"
)

const pipeBuffer = 256

type pipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns the two ends of an in-memory connection. Messages are
// encoded on the way through, as on a real socket. Closing either end
// drops the whole connection.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	return &pipeConn{in: ba, out: ab, closed: closed, once: once},
		&pipeConn{in: ab, out: ba, closed: closed, once: once}
}

func (p *pipeConn) Send(ctx context.Context, m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns messages that were sent before a close ahead of
// reporting ErrClosed.
func (p *pipeConn) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case data := <-p.in:
		return protocol.Decode(data)
	case <-p.closed:
		select {
		case data := <-p.in:
			return protocol.Decode(data)
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
