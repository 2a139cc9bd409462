package session

// TokenSource supplies the current bearer credential. Implementations are
// expected to be cheap and callable from the event loop; the session re-reads
// the source on every connect intent and on reconnect attempts so that a
// refreshed credential is picked up without an explicit reconnect.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// StaticToken is a fixed credential, mostly useful for tools and tests.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// AuthExpiredFunc is notified when the server rejects the credential
// (handshake 401/403 or an auth_error event). The session has already moved
// to StatusAuthError when it fires; the callback runs on its own goroutine,
// so it may call Connect again after obtaining fresh credentials.
type AuthExpiredFunc func(reason string)
