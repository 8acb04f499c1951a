package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20 // 1MB
)

// Conn is the subset of *websocket.Conn the connector uses. Only the
// connector task writes; a single reader goroutine reads.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens connections to a provider endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

type websocketDialer struct {
	d websocket.Dialer
}

// NewWebsocketDialer returns a gorilla/websocket dialer honoring proxy
// environment variables.
func NewWebsocketDialer() Dialer {
	return &websocketDialer{d: websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}}
}

func (w *websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)
	return conn, nil
}
