package session

// Status is the connection lifecycle state of the session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	// StatusAuthError means the server rejected the credential. The session
	// takes no further connection action until a new token is supplied via
	// Connect, or Disconnect resets it.
	StatusAuthError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusAuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}

// live reports whether wire operations may currently be emitted.
func (s Status) live() bool { return s == StatusConnected }

// Session is a snapshot of the supervisor state, exposed to the UI through
// the Store and the update stream.
type Session struct {
	Status     Status `json:"status"`
	RetryCount uint   `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`
}
