package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// UpdateTopic is the in-process pub/sub topic carrying session updates.
const UpdateTopic = "session.updates"

// UpdateKind discriminates the Update union.
type UpdateKind string

const (
	UpdateKindSession      UpdateKind = "session"
	UpdateKindRoom         UpdateKind = "room"
	UpdateKindMessage      UpdateKind = "message"
	UpdateKindReceipt      UpdateKind = "receipt"
	UpdateKindConversation UpdateKind = "conversation"
	UpdateKindUnread       UpdateKind = "unread"
	UpdateKindTyping       UpdateKind = "typing"
	UpdateKindPresence     UpdateKind = "presence"
)

// Update is one state transition, published to UI subscribers. Exactly one
// field besides Kind is set, matching Kind.
type Update struct {
	Kind         UpdateKind           `json:"kind"`
	Session      *Session             `json:"session,omitempty"`
	Room         *RoomUpdate          `json:"room,omitempty"`
	Message      *MessageUpdate       `json:"message,omitempty"`
	Receipt      *MessageReadPayload  `json:"receipt,omitempty"`
	Conversation *ConversationSummary `json:"conversation,omitempty"`
	Unread       *UnreadCountPayload  `json:"unread,omitempty"`
	Typing       *TypingUpdate        `json:"typing,omitempty"`
	Presence     *PresenceUpdate      `json:"presence,omitempty"`
}

// RoomUpdate reports a room subscription transition. Error is set when the
// server rejected the join; the failure is scoped to this room only.
type RoomUpdate struct {
	ConversationID string `json:"conversationId"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
}

// MessageUpdate carries either an inbound message appended to a conversation
// or an outbound (optimistic) send transition.
type MessageUpdate struct {
	ConversationID string           `json:"conversationId"`
	Inbound        *Message         `json:"inbound,omitempty"`
	Outbound       *OutboundMessage `json:"outbound,omitempty"`
}

// TypingUpdate is the current typing set for one conversation.
type TypingUpdate struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
}

// PresenceUpdate is the current global online set.
type PresenceUpdate struct {
	UserIDs []string `json:"userIds"`
	Version uint64   `json:"version"`
}

// updateBus publishes updates over an in-process watermill gochannel Pub/Sub,
// one JSON message per state transition. Publication goes through an internal
// queue drained by its own goroutine: gochannel.Publish blocks once a
// subscriber's output buffer fills, and that must never stall the event loop.
type updateBus struct {
	pubsub    *gochannel.GoChannel
	queue     chan Update
	done      chan struct{}
	closeOnce sync.Once
}

func newUpdateBus() *updateBus {
	b := &updateBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
		queue: make(chan Update, 256),
		done:  make(chan struct{}),
	}
	go b.forward()
	return b
}

func (b *updateBus) forward() {
	for {
		select {
		case <-b.done:
			return
		case u := <-b.queue:
			payload, err := json.Marshal(u)
			if err != nil {
				log.Warn().Err(err).Str("component", "session").Msg("failed to marshal update")
				continue
			}
			msg := message.NewMessage(watermill.NewUUID(), payload)
			if err := b.pubsub.Publish(UpdateTopic, msg); err != nil {
				log.Debug().Err(err).Str("component", "session").Msg("update publish failed")
			}
		}
	}
}

// publish never blocks. Once a stalled subscriber has filled every buffer,
// further updates are dropped; subscribers needing a full picture re-read the
// Store snapshot.
func (b *updateBus) publish(u Update) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- u:
	default:
		log.Warn().Str("component", "session").Str("kind", string(u.Kind)).Msg("update queue full, dropping update")
	}
}

// subscribe returns a typed update channel bound to ctx. The channel closes
// when ctx is canceled or the bus shuts down.
func (b *updateBus) subscribe(ctx context.Context) (<-chan Update, error) {
	msgs, err := b.pubsub.Subscribe(ctx, UpdateTopic)
	if err != nil {
		return nil, err
	}
	out := make(chan Update, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var u Update
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				log.Debug().Err(err).Str("component", "session").Msg("dropping malformed update")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *updateBus) close() {
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.pubsub.Close()
	})
}
