package session

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// inboundHandler applies one wire event to session state. The table below is
// the complete inbound surface: every event maps to exactly one state
// transition, and nothing outside this file reacts to wire events.
type inboundHandler func(c *Client, env Envelope)

var inboundHandlers map[string]inboundHandler

func init() {
	inboundHandlers = map[string]inboundHandler{
		EventNewMessage:          (*Client).onNewMessage,
		EventMessageSent:         (*Client).onMessageSent,
		EventMessageRead:         (*Client).onMessageRead,
		EventJoinedConversation:  (*Client).onJoinedConversation,
		EventLeftConversation:    (*Client).onLeftConversation,
		EventConversationUpdated: (*Client).onConversationUpdated,
		EventUnreadCount:         (*Client).onUnreadCount,
		EventUserTyping:          (*Client).onUserTyping,
		EventUserStoppedTyping:   (*Client).onUserStoppedTyping,
		EventUserOnline:          (*Client).onUserOnline,
		EventUserOffline:         (*Client).onUserOffline,
		EventOnlineUsers:         (*Client).onOnlineUsers,
		EventAuthError:           (*Client).onAuthError,
		EventConnectError:        (*Client).onConnectError,
		EventError:               (*Client).onServerError,
	}
}

func (c *Client) onNewMessage(env Envelope) {
	var m Message
	if err := env.Decode(&m); err != nil {
		c.logger.Warn().Err(err).Msg("malformed new_message")
		return
	}
	// The broadcast copy of our own send doubles as a confirmation on
	// backends that skip the dedicated message_sent event.
	if m.ClientTempID != "" {
		if confirmed, ok := c.outbox.confirm(m); ok {
			c.store.resolveEcho(m.ConversationID, confirmed.ClientTempID, m)
			c.publishOutbound(confirmed)
			return
		}
	}
	c.store.appendInbound(m)
	c.publishInbound(m)
}

func (c *Client) onMessageSent(env Envelope) {
	var m Message
	if err := env.Decode(&m); err != nil {
		c.logger.Warn().Err(err).Msg("malformed message_sent")
		return
	}
	confirmed, ok := c.outbox.confirm(m)
	if !ok {
		// Confirmation for a send we no longer track (e.g. already failed
		// and surfaced); applying it again would duplicate the message.
		c.logger.Debug().Str("message_id", m.ID).Msg("dropping uncorrelated confirmation")
		return
	}
	c.store.resolveEcho(m.ConversationID, confirmed.ClientTempID, m)
	c.publishOutbound(confirmed)
}

func (c *Client) onMessageRead(env Envelope) {
	var p MessageReadPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed message_read")
		return
	}
	c.store.applyRead(p.ConversationID, p.MessageID, p.ReaderID)
	c.bus.publish(Update{Kind: UpdateKindReceipt, Receipt: &p})
}

func (c *Client) onJoinedConversation(env Envelope) {
	var p JoinedConversationPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed joined_conversation")
		return
	}
	if !c.rooms.confirmJoin(p.ConversationID) {
		return
	}
	c.store.setRoom(p.ConversationID, RoomJoined)
	c.publishRoom(p.ConversationID, RoomJoined, "")
}

func (c *Client) onLeftConversation(env Envelope) {
	var p LeftConversationPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed left_conversation")
		return
	}
	c.store.setRoom(p.ConversationID, RoomLeft)
	c.publishRoom(p.ConversationID, RoomLeft, "")
}

func (c *Client) onConversationUpdated(env Envelope) {
	var sum ConversationSummary
	if err := env.Decode(&sum); err != nil {
		c.logger.Warn().Err(err).Msg("malformed conversation_updated")
		return
	}
	c.store.setSummary(sum)
	c.bus.publish(Update{Kind: UpdateKindConversation, Conversation: &sum})
}

func (c *Client) onUnreadCount(env Envelope) {
	var p UnreadCountPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed unread_count")
		return
	}
	c.store.setUnread(p.ConversationID, p.Count)
	c.bus.publish(Update{Kind: UpdateKindUnread, Unread: &p})
}

func (c *Client) onUserTyping(env Envelope) {
	var p UserTypingPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed user_typing")
		return
	}
	now := timeNow()
	c.presence.userTyping(p.ConversationID, p.UserID, now)
	users := c.presence.typingUsers(p.ConversationID, now)
	c.store.setTyping(p.ConversationID, users)
	c.publishTyping(p.ConversationID, users)
	c.rescheduleSweep()
}

func (c *Client) onUserStoppedTyping(env Envelope) {
	var p UserTypingPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed user_stopped_typing")
		return
	}
	if !c.presence.userStoppedTyping(p.ConversationID, p.UserID) {
		return
	}
	users := c.presence.typingUsers(p.ConversationID, timeNow())
	c.store.setTyping(p.ConversationID, users)
	c.publishTyping(p.ConversationID, users)
	c.rescheduleSweep()
}

func (c *Client) onUserOnline(env Envelope) {
	userID, err := decodeUserID(env)
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed user_online")
		return
	}
	if c.presence.setOnline(userID) {
		c.store.setOnline(c.presence.onlineUsers())
		c.publishPresence()
	}
}

func (c *Client) onUserOffline(env Envelope) {
	userID, err := decodeUserID(env)
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed user_offline")
		return
	}
	if c.presence.setOffline(userID) {
		c.store.setOnline(c.presence.onlineUsers())
		c.publishPresence()
	}
}

func (c *Client) onOnlineUsers(env Envelope) {
	p, err := decodeOnlineUsers(env)
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed online_users")
		return
	}
	if !c.presence.applySnapshot(p.UserIDs, p.Version) {
		c.logger.Debug().Uint64("version", p.Version).Msg("discarding stale presence snapshot")
		return
	}
	c.store.setOnline(c.presence.onlineUsers())
	c.publishPresence()
}

func (c *Client) onAuthError(env Envelope) {
	var p AuthErrorPayload
	if err := env.Decode(&p); err != nil || p.Reason == "" {
		p.Reason = "authentication rejected"
	}
	c.enterAuthError(p.Reason)
}

func (c *Client) onConnectError(env Envelope) {
	var p ConnectErrorPayload
	if err := env.Decode(&p); err != nil || p.Message == "" {
		p.Message = "transport failure"
	}
	c.onConnLost(c.gen, errors.New(p.Message))
}

func (c *Client) onServerError(env Envelope) {
	var p ErrorPayload
	if err := env.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Msg("malformed error event")
		return
	}
	if p.ConversationID != "" {
		// Room-level failure (e.g. join rejected): scoped to that room, the
		// connection and other subscriptions are unaffected.
		c.rooms.fail(p.ConversationID)
		c.store.setRoom(p.ConversationID, RoomLeft)
		c.publishRoom(p.ConversationID, RoomLeft, p.Message)
		return
	}
	c.lastErr = p.Message
	c.publishSession()
}

// decodeUserID accepts both the bare-string and the object form of a
// presence delta payload; the backend has emitted both over time.
func decodeUserID(env Envelope) (string, error) {
	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil && s != "" {
		return s, nil
	}
	var p PresenceDeltaPayload
	if err := env.Decode(&p); err != nil {
		return "", err
	}
	if p.UserID == "" {
		return "", errors.Errorf("%s: missing userId", env.Event)
	}
	return p.UserID, nil
}

// decodeOnlineUsers accepts both the bare-array and the object form of the
// presence snapshot payload.
func decodeOnlineUsers(env Envelope) (OnlineUsersPayload, error) {
	var ids []string
	if err := json.Unmarshal(env.Data, &ids); err == nil {
		return OnlineUsersPayload{UserIDs: ids}, nil
	}
	var p OnlineUsersPayload
	if err := env.Decode(&p); err != nil {
		return OnlineUsersPayload{}, err
	}
	return p, nil
}
