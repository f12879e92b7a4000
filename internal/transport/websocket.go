package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Snapshots of large pages travel as one message.
	maxMessageSize = 8 << 20

	// PathPrefix is where the hub serves page connections:
	// /ws/{project}/{page}?session={session}
	PathPrefix = "/ws/"
)

type wsConn struct {
	conn *websocket.Conn
}

// NewWebSocketConn wraps an established websocket.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(ctx context.Context, m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *wsConn) Receive(ctx context.Context) (*protocol.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, ErrClosed
		}
		return nil, err
	}
	return protocol.Decode(data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// AcceptOptions configures the server side of the websocket transport.
type AcceptOptions struct {
	// OriginPatterns lists the hosts allowed to open connections, in the
	// form accepted by path.Match. Same-host requests are always allowed.
	OriginPatterns []string
}

// Accept upgrades r and returns the connection with the scope parsed from
// the request path.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (Conn, protocol.Scope, error) {
	scope, err := ParseScope(r.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, scope, err
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, scope, err
	}
	return NewWebSocketConn(conn), scope, nil
}

// ParseScope extracts the scope from /ws/{project}/{page}?session=.
func ParseScope(u *url.URL) (protocol.Scope, error) {
	var scope protocol.Scope
	rest, ok := strings.CutPrefix(u.Path, PathPrefix)
	if !ok {
		return scope, errors.NewProtocolError(fmt.Sprintf("unexpected path %q", u.Path))
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return scope, errors.NewProtocolError(fmt.Sprintf("path %q does not name a project and page", u.Path))
	}
	scope.ProjectID = parts[0]
	scope.PageID = parts[1]
	scope.SessionID = u.Query().Get("session")
	if scope.SessionID == "" {
		return scope, errors.NewProtocolError("missing session parameter")
	}
	return scope, nil
}

// ScopeURL builds the connection URL for scope below base, which may use
// the http, https, ws or wss scheme.
func ScopeURL(base string, scope protocol.Scope) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.NewConfigError(fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + PathPrefix + url.PathEscape(scope.ProjectID) + "/" + url.PathEscape(scope.PageID)
	u.RawQuery = url.Values{"session": {scope.SessionID}}.Encode()
	return u.String(), nil
}

// WebSocketDialer dials a hub over websocket.
type WebSocketDialer struct {
	BaseURL    string
	HTTPClient *http.Client
	Header     http.Header
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, scope protocol.Scope) (Conn, error) {
	target, err := ScopeURL(d.BaseURL, scope)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(conn), nil
}
