package session

import (
	"sort"
	"time"
)

// presenceTracker holds ephemeral typing indicators and the global online
// set. Only touched on the event loop; the Store keeps the UI-facing copies.
type presenceTracker struct {
	timeout time.Duration
	typing  map[string]map[string]time.Time // conversation -> user -> expiry
	online  map[string]struct{}
	version uint64 // last applied full-snapshot version
}

func newPresenceTracker(timeout time.Duration) *presenceTracker {
	return &presenceTracker{
		timeout: timeout,
		typing:  map[string]map[string]time.Time{},
		online:  map[string]struct{}{},
	}
}

// userTyping inserts or refreshes a typing entry.
func (p *presenceTracker) userTyping(conversationID, userID string, now time.Time) {
	users, ok := p.typing[conversationID]
	if !ok {
		users = map[string]time.Time{}
		p.typing[conversationID] = users
	}
	users[userID] = now.Add(p.timeout)
}

// userStoppedTyping removes an entry immediately. Reports whether the set
// changed.
func (p *presenceTracker) userStoppedTyping(conversationID, userID string) bool {
	users, ok := p.typing[conversationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.typing, conversationID)
	}
	return true
}

// sweep drops expired typing entries and returns the conversations whose
// visible set changed. Typing state self-heals on timeout even when the stop
// event never arrives.
func (p *presenceTracker) sweep(now time.Time) []string {
	var changed []string
	for convID, users := range p.typing {
		dirty := false
		for userID, expiry := range users {
			if !expiry.After(now) {
				delete(users, userID)
				dirty = true
			}
		}
		if len(users) == 0 {
			delete(p.typing, convID)
		}
		if dirty {
			changed = append(changed, convID)
		}
	}
	sort.Strings(changed)
	return changed
}

// typingUsers returns the unexpired typing set for a conversation, sorted.
// Expiry is also checked lazily here so readers never see a stale entry
// between sweeps.
func (p *presenceTracker) typingUsers(conversationID string, now time.Time) []string {
	users := p.typing[conversationID]
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for userID, expiry := range users {
		if expiry.After(now) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// nextExpiry returns the earliest typing expiry across all conversations.
func (p *presenceTracker) nextExpiry() (time.Time, bool) {
	var next time.Time
	found := false
	for _, users := range p.typing {
		for _, expiry := range users {
			if !found || expiry.Before(next) {
				next = expiry
				found = true
			}
		}
	}
	return next, found
}

// applySnapshot replaces the online set wholesale. A versioned snapshot that
// does not advance past the last applied version is discarded; an unversioned
// snapshot always applies.
func (p *presenceTracker) applySnapshot(userIDs []string, version uint64) bool {
	if version > 0 && version <= p.version {
		return false
	}
	if version > 0 {
		p.version = version
	} else {
		p.version++
	}
	p.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		p.online[id] = struct{}{}
	}
	return true
}

// setOnline applies a user_online delta. Duplicates are idempotent.
func (p *presenceTracker) setOnline(userID string) bool {
	if _, ok := p.online[userID]; ok {
		return false
	}
	p.online[userID] = struct{}{}
	return true
}

// setOffline applies a user_offline delta. Duplicates are idempotent.
func (p *presenceTracker) setOffline(userID string) bool {
	if _, ok := p.online[userID]; !ok {
		return false
	}
	delete(p.online, userID)
	return true
}

func (p *presenceTracker) onlineUsers() []string {
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
