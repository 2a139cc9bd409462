package session

import "time"

const (
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.5
	DefaultDialTimeout       = 20 * time.Second
	DefaultTypingTimeout     = 5 * time.Second
)

// Config holds the session parameters. URL and Token are required; every
// other field has a usable default.
type Config struct {
	// URL is the websocket endpoint of the chat backend.
	URL string
	// Token supplies the bearer credential used at handshake time.
	Token TokenSource
	// OnAuthExpired is invoked when the server rejects the credential.
	// Optional; when nil, auth rejection is only reflected in session state.
	OnAuthExpired AuthExpiredFunc
	// Transport overrides the physical connection factory. Defaults to the
	// websocket transport; tests substitute a fake.
	Transport Transport

	// Reconnect backoff policy: delay starts at BackoffBase, grows by
	// BackoffMultiplier per failed attempt up to BackoffMax, randomized by
	// +/- BackoffJitter. Attempts are unbounded. A negative BackoffJitter
	// disables randomization entirely (deterministic delays, used in tests).
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// TypingTimeout is how long a typing indicator stays visible without a
	// refresh or an explicit stop event.
	TypingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Transport == nil {
		c.Transport = NewWebSocketTransport(c.DialTimeout)
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.BackoffJitter == 0 {
		c.BackoffJitter = DefaultBackoffJitter
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	return c
}
