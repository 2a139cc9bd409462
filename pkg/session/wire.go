package session

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Wire event names. Outbound names are emitted by this client; inbound names
// arrive from the chat backend over the same multiplexed connection.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"

	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventMessageRead         = "message_read"
	EventJoinedConversation  = "joined_conversation"
	EventLeftConversation    = "left_conversation"
	EventConversationUpdated = "conversation_updated"
	EventUnreadCount         = "unread_count"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventOnlineUsers         = "online_users"
	EventAuthError           = "auth_error"
	EventConnectError        = "connect_error"
	EventError               = "error"
)

// Envelope is the canonical wire wrapper: an event name plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload struct into an Envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, errors.Wrapf(err, "marshal %s payload", event)
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", e.Event)
	}
	return nil
}

// Attachment is an already-uploaded file referenced by a message. Upload
// handling itself is outside this layer.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Message is the server-assigned message entity.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	// ClientTempID is echoed back on message_sent so the optimistic local
	// copy can be correlated with the confirmed entity.
	ClientTempID string    `json:"clientTempId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ---- outbound payloads ----

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type LeaveConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID string       `json:"conversationId"`
	ClientTempID   string       `json:"clientTempId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ---- inbound payloads ----

type JoinedConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type LeftConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type MessageReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReaderID       string `json:"readerId"`
}

// ConversationSummary is the metadata projection pushed on
// conversation_updated.
type ConversationSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	ListingID   string    `json:"listingId,omitempty"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type UnreadCountPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

type UserTypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type PresenceDeltaPayload struct {
	UserID string `json:"userId"`
}

// OnlineUsersPayload is the full presence snapshot. Version, when present,
// is a server-side monotonic counter; a snapshot older than the last applied
// one is discarded.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
	Version uint64   `json:"version,omitempty"`
}

type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

type ConnectErrorPayload struct {
	Message string `json:"message"`
}

// ErrorPayload is the generic server error event. A non-empty ConversationID
// scopes the error to one room (e.g. a rejected join).
type ErrorPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}
