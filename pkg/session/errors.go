package session

import "github.com/pkg/errors"

var (
	// ErrNoToken is surfaced when a connect intent finds no credential. It is
	// never retried; the caller must supply a token and connect again.
	ErrNoToken = errors.New("no auth token available")

	// ErrAuthRejected marks a connection attempt or live connection that the
	// server refused for credential reasons. It moves the session to
	// StatusAuthError and suppresses further reconnect attempts.
	ErrAuthRejected = errors.New("credentials rejected by server")

	// ErrNotConnected is returned by wire emissions attempted without a live
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("session client closed")
)
