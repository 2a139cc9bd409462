package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is one established duplex connection. The event loop is the only
// writer; the read pump is the only reader.
type Conn interface {
	ReadEnvelope() (Envelope, error)
	WriteEnvelope(Envelope) error
	Close() error
}

// Transport dials the backend. The bearer credential travels as
// connection-time auth data in the handshake, never as a per-event parameter.
type Transport interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

type wsTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport returns the production websocket transport.
func NewWebSocketTransport(handshakeTimeout time.Duration) Transport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultDialTimeout
	}
	return &wsTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (t *wsTransport) Dial(ctx context.Context, url, token string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(ErrAuthRejected, "handshake status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial")
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope() (Envelope, error) {
	var env Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(env Envelope) error {
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// isServerClose reports whether a read error was an orderly server-initiated
// close rather than a transport fault. Server-initiated disconnects retry
// immediately; transport faults go through backoff.
func isServerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseServiceRestart,
	)
}
