package session

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// RoomState is the acknowledged wire-side subscription state of a room.
type RoomState int

const (
	RoomLeft RoomState = iota
	RoomPending
	RoomJoined
)

func (s RoomState) String() string {
	switch s {
	case RoomPending:
		return "pending"
	case RoomJoined:
		return "joined"
	default:
		return "left"
	}
}

type room struct {
	desired  bool // true when the UI wants this room joined
	physical RoomState
}

// roomSet reconciles the UI's desired subscription set against the physical
// connection. Only touched on the event loop. It never emits wire requests
// itself; the emit callback routes through the client's single write path.
type roomSet struct {
	rooms map[string]*room
}

func newRoomSet() *roomSet {
	return &roomSet{rooms: map[string]*room{}}
}

func (rs *roomSet) get(id string) *room {
	r, ok := rs.rooms[id]
	if !ok {
		r = &room{}
		rs.rooms[id] = r
	}
	return r
}

// requestJoin records the desire and, when connected, emits a join request.
// While disconnected the desire is deferred and flushed by reconcile.
func (rs *roomSet) requestJoin(id string, connected bool, emit func(Envelope) error) RoomState {
	r := rs.get(id)
	r.desired = true
	if !connected {
		return r.physical
	}
	if r.physical == RoomJoined {
		return r.physical
	}
	env, err := NewEnvelope(EventJoinConversation, JoinConversationPayload{ConversationID: id})
	if err == nil && emit(env) == nil {
		r.physical = RoomPending
	}
	return r.physical
}

// requestLeave records the desire and, when connected, emits a leave request.
// A leave requested while a join is still pending supersedes it; a late join
// confirmation is then discarded (last-requested-state wins).
func (rs *roomSet) requestLeave(id string, connected bool, emit func(Envelope) error) RoomState {
	r := rs.get(id)
	r.desired = false
	if connected && r.physical != RoomLeft {
		env, err := NewEnvelope(EventLeaveConversation, LeaveConversationPayload{ConversationID: id})
		if err == nil {
			_ = emit(env)
		}
	}
	r.physical = RoomLeft
	return r.physical
}

// confirmJoin applies a join acknowledgment. Returns false when the
// confirmation is stale (the room is no longer desired) and must not
// re-activate the subscription.
func (rs *roomSet) confirmJoin(id string) bool {
	r, ok := rs.rooms[id]
	if !ok || !r.desired {
		log.Debug().Str("component", "session").Str("conversation_id", id).Msg("discarding stale join confirmation")
		return false
	}
	r.physical = RoomJoined
	return true
}

// fail marks a room whose join the server rejected. The desire is kept; the
// UI decides whether to retry.
func (rs *roomSet) fail(id string) {
	if r, ok := rs.rooms[id]; ok {
		r.physical = RoomLeft
	}
}

// reconcile re-emits a join for every desired room and returns the rooms
// whose join actually reached the wire. Called on every transition into
// Connected: the server holds no subscription memory across a dropped
// connection, so prior physical state is irrelevant. A write failure aborts
// the pass; the remaining rooms stay Left and are retried on the next
// connection.
func (rs *roomSet) reconcile(emit func(Envelope) error) []string {
	ids := make([]string, 0, len(rs.rooms))
	for id, r := range rs.rooms {
		if r.desired {
			ids = append(ids, id)
		} else {
			r.physical = RoomLeft
		}
	}
	sort.Strings(ids)
	var rejoined []string
	for _, id := range ids {
		env, err := NewEnvelope(EventJoinConversation, JoinConversationPayload{ConversationID: id})
		if err != nil {
			continue
		}
		if emit(env) != nil {
			break
		}
		rs.rooms[id].physical = RoomPending
		rejoined = append(rejoined, id)
	}
	return rejoined
}

// markAllLeft resets physical state after the connection drops and returns
// the rooms that were not already Left, sorted. Desired state is untouched
// and drives the next reconciliation.
func (rs *roomSet) markAllLeft() []string {
	var changed []string
	for id, r := range rs.rooms {
		if r.physical != RoomLeft {
			r.physical = RoomLeft
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

func (rs *roomSet) snapshot() map[string]RoomState {
	out := make(map[string]RoomState, len(rs.rooms))
	for id, r := range rs.rooms {
		out[id] = r.physical
	}
	return out
}
