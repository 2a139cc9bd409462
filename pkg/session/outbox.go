package session

import (
	"time"
)

// AckState is the acknowledgment state of an outbound message. It transitions
// from AckPending to exactly one terminal state and never back.
type AckState int

const (
	AckPending AckState = iota
	AckConfirmed
	AckFailed
)

func (s AckState) String() string {
	switch s {
	case AckConfirmed:
		return "confirmed"
	case AckFailed:
		return "failed"
	default:
		return "pending"
	}
}

// OutboundMessage is an optimistic local send awaiting server acknowledgment.
type OutboundMessage struct {
	ClientTempID   string       `json:"clientTempId"`
	ConversationID string       `json:"conversationId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	State          AckState     `json:"state"`
	// Error holds the failure reason once State is AckFailed.
	Error string `json:"error,omitempty"`
	// Server is the confirmed entity once State is AckConfirmed.
	Server    *Message  `json:"server,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	written bool // handed to the transport on some connection
}

// outbox owns outbound messages until they reach a terminal ack state. Only
// touched on the event loop.
type outbox struct {
	pending map[string]*OutboundMessage
	order   []string // insertion order, for deterministic fallback matching
}

func newOutbox() *outbox {
	return &outbox{pending: map[string]*OutboundMessage{}}
}

func (o *outbox) add(m *OutboundMessage) {
	o.pending[m.ClientTempID] = m
	o.order = append(o.order, m.ClientTempID)
}

func (o *outbox) markWritten(clientTempID string) {
	if m, ok := o.pending[clientTempID]; ok {
		m.written = true
	}
}

func (o *outbox) remove(clientTempID string) {
	delete(o.pending, clientTempID)
	for i, id := range o.order {
		if id == clientTempID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// confirm resolves a pending send against a message_sent confirmation,
// correlating by clientTempId or, absent one, by the oldest written pending
// send with matching conversation and content. The message leaves the outbox
// in either case.
func (o *outbox) confirm(srv Message) (*OutboundMessage, bool) {
	m, ok := o.pending[srv.ClientTempID]
	if !ok && srv.ClientTempID == "" {
		for _, id := range o.order {
			cand := o.pending[id]
			if cand.written && cand.ConversationID == srv.ConversationID && cand.Content == srv.Content {
				m, ok = cand, true
				break
			}
		}
	}
	if !ok {
		return nil, false
	}
	m.State = AckConfirmed
	srvCopy := srv
	m.Server = &srvCopy
	o.remove(m.ClientTempID)
	return m, true
}

// fail moves one pending send to its terminal failed state.
func (o *outbox) fail(clientTempID, reason string) (*OutboundMessage, bool) {
	m, ok := o.pending[clientTempID]
	if !ok {
		return nil, false
	}
	m.State = AckFailed
	m.Error = reason
	o.remove(clientTempID)
	return m, true
}

// failUnwritten fails every pending send that never reached the wire. Called
// when the connection drops: such sends cannot be resolved by a delayed ack.
func (o *outbox) failUnwritten(reason string) []*OutboundMessage {
	return o.failWhere(reason, func(m *OutboundMessage) bool { return !m.written })
}

// failAll flushes every pending send to failed. Called on explicit
// disconnect and on auth rejection so nothing is left silently pending.
func (o *outbox) failAll(reason string) []*OutboundMessage {
	return o.failWhere(reason, func(*OutboundMessage) bool { return true })
}

func (o *outbox) failWhere(reason string, pred func(*OutboundMessage) bool) []*OutboundMessage {
	var failed []*OutboundMessage
	for _, id := range append([]string(nil), o.order...) {
		m := o.pending[id]
		if m == nil || !pred(m) {
			continue
		}
		m.State = AckFailed
		m.Error = reason
		o.remove(id)
		failed = append(failed, m)
	}
	return failed
}

func (o *outbox) size() int { return len(o.pending) }
