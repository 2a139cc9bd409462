package session

import (
	"sync"
)

// ChatMessage is one entry in a conversation's local view: either a confirmed
// server message or an optimistic echo still awaiting its ack.
type ChatMessage struct {
	Message
	Pending    bool     `json:"pending,omitempty"`
	Failed     bool     `json:"failed,omitempty"`
	FailReason string   `json:"failReason,omitempty"`
	ReadBy     []string `json:"readBy,omitempty"`
}

// Store is the UI-facing snapshot of application state maintained by the
// bridge. It is the only piece of session state read from foreign
// goroutines, so it is guarded by a mutex; all accessors copy out.
type Store struct {
	mu        sync.RWMutex
	session   Session
	rooms     map[string]RoomState
	messages  map[string][]ChatMessage
	summaries map[string]ConversationSummary
	unread    map[string]int
	typing    map[string][]string
	online    []string
}

func newStore() *Store {
	return &Store{
		rooms:     map[string]RoomState{},
		messages:  map[string][]ChatMessage{},
		summaries: map[string]ConversationSummary{},
		unread:    map[string]int{},
		typing:    map[string][]string{},
	}
}

// ---- mutations (event loop only) ----

func (s *Store) setSession(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Store) setRoom(conversationID string, state RoomState) {
	s.mu.Lock()
	s.rooms[conversationID] = state
	s.mu.Unlock()
}

// appendEcho appends the optimistic local copy of an outbound send, ordered
// after everything already in the conversation's view.
func (s *Store) appendEcho(m *OutboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], ChatMessage{
		Message: Message{
			ID:             m.ClientTempID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			Attachments:    m.Attachments,
			ClientTempID:   m.ClientTempID,
			CreatedAt:      m.CreatedAt,
		},
		Pending: true,
	})
}

// resolveEcho replaces the optimistic copy with the confirmed server entity,
// keeping its position in the local ordering.
func (s *Store) resolveEcho(conversationID, clientTempID string, srv Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ClientTempID == clientTempID {
			msgs[i] = ChatMessage{Message: srv}
			return
		}
	}
	// echo no longer present (e.g. resolved after a reconnect cycle)
	s.messages[conversationID] = append(msgs, ChatMessage{Message: srv})
}

func (s *Store) failEcho(conversationID, clientTempID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ClientTempID == clientTempID {
			msgs[i].Pending = false
			msgs[i].Failed = true
			msgs[i].FailReason = reason
			return
		}
	}
}

// appendInbound appends a received message in receipt order. Receipt order is
// the ordering guarantee; no reordering by embedded timestamp happens.
func (s *Store) appendInbound(m Message) {
	s.mu.Lock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], ChatMessage{Message: m})
	s.mu.Unlock()
}

func (s *Store) applyRead(conversationID, messageID, readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		for _, r := range msgs[i].ReadBy {
			if r == readerID {
				return
			}
		}
		msgs[i].ReadBy = append(msgs[i].ReadBy, readerID)
		return
	}
}

func (s *Store) setSummary(sum ConversationSummary) {
	s.mu.Lock()
	s.summaries[sum.ID] = sum
	s.mu.Unlock()
}

func (s *Store) setUnread(conversationID string, count int) {
	s.mu.Lock()
	s.unread[conversationID] = count
	s.mu.Unlock()
}

func (s *Store) setTyping(conversationID string, userIDs []string) {
	s.mu.Lock()
	if len(userIDs) == 0 {
		delete(s.typing, conversationID)
	} else {
		s.typing[conversationID] = userIDs
	}
	s.mu.Unlock()
}

func (s *Store) setOnline(userIDs []string) {
	s.mu.Lock()
	s.online = userIDs
	s.mu.Unlock()
}

// ---- accessors (any goroutine) ----

func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) Rooms() map[string]RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RoomState, len(s.rooms))
	for id, st := range s.rooms {
		out[id] = st
	}
	return out
}

func (s *Store) Messages(conversationID string) []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatMessage(nil), s.messages[conversationID]...)
}

func (s *Store) Conversation(conversationID string) (ConversationSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[conversationID]
	return sum, ok
}

func (s *Store) Unread(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.typing[conversationID]...)
}

func (s *Store) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.online...)
}
