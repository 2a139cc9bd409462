package session

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingEmit(out *[]Envelope) func(Envelope) error {
	return func(env Envelope) error {
		*out = append(*out, env)
		return nil
	}
}

func TestRequestJoinWhileDisconnectedDefersEmission(t *testing.T) {
	rs := newRoomSet()
	var emitted []Envelope

	st := rs.requestJoin("conv-a", false, recordingEmit(&emitted))
	assert.Equal(t, RoomLeft, st)
	assert.Empty(t, emitted)

	ids := rs.reconcile(recordingEmit(&emitted))
	require.Equal(t, []string{"conv-a"}, ids)
	require.Len(t, emitted, 1)
	assert.Equal(t, EventJoinConversation, emitted[0].Event)
	assert.Equal(t, RoomPending, rs.snapshot()["conv-a"])
}

func TestRequestJoinWhileConnectedEmitsOnce(t *testing.T) {
	rs := newRoomSet()
	var emitted []Envelope

	st := rs.requestJoin("conv-a", true, recordingEmit(&emitted))
	assert.Equal(t, RoomPending, st)
	require.Len(t, emitted, 1)

	require.True(t, rs.confirmJoin("conv-a"))
	st = rs.requestJoin("conv-a", true, recordingEmit(&emitted))
	assert.Equal(t, RoomJoined, st)
	assert.Len(t, emitted, 1, "join for an already-joined room must not re-emit")
}

func TestLeaveSupersedesPendingJoin(t *testing.T) {
	rs := newRoomSet()
	var emitted []Envelope

	rs.requestJoin("conv-a", true, recordingEmit(&emitted))
	st := rs.requestLeave("conv-a", true, recordingEmit(&emitted))
	assert.Equal(t, RoomLeft, st)
	require.Len(t, emitted, 2)
	assert.Equal(t, EventLeaveConversation, emitted[1].Event)

	// The join ack arrives after the leave was requested.
	assert.False(t, rs.confirmJoin("conv-a"))
	assert.Equal(t, RoomLeft, rs.snapshot()["conv-a"])
}

func TestConfirmJoinUnknownRoom(t *testing.T) {
	rs := newRoomSet()
	assert.False(t, rs.confirmJoin("never-requested"))
}

func TestReconcileRejoinsDesiredRoomsSorted(t *testing.T) {
	rs := newRoomSet()
	none := func(Envelope) error { return nil }
	rs.requestJoin("conv-b", false, none)
	rs.requestJoin("conv-a", false, none)
	rs.requestJoin("conv-c", false, none)
	rs.requestLeave("conv-c", false, none)

	var emitted []Envelope
	ids := rs.reconcile(recordingEmit(&emitted))
	assert.Equal(t, []string{"conv-a", "conv-b"}, ids)
	require.Len(t, emitted, 2)

	var p JoinConversationPayload
	require.NoError(t, emitted[0].Decode(&p))
	assert.Equal(t, "conv-a", p.ConversationID)
}

func TestReconcileAfterDropRepeatsJoins(t *testing.T) {
	rs := newRoomSet()
	none := func(Envelope) error { return nil }
	rs.requestJoin("conv-a", true, none)
	require.True(t, rs.confirmJoin("conv-a"))

	rs.markAllLeft()
	assert.Equal(t, RoomLeft, rs.snapshot()["conv-a"])

	var emitted []Envelope
	ids := rs.reconcile(recordingEmit(&emitted))
	assert.Equal(t, []string{"conv-a"}, ids)
	assert.Len(t, emitted, 1, "joined state from the old connection must not suppress the rejoin")
}

func TestMarkAllLeftReportsChangedRooms(t *testing.T) {
	rs := newRoomSet()
	none := func(Envelope) error { return nil }
	rs.requestJoin("conv-b", true, none)
	rs.requestJoin("conv-a", true, none)
	require.True(t, rs.confirmJoin("conv-a"))
	rs.requestLeave("conv-c", false, none)

	assert.Equal(t, []string{"conv-a", "conv-b"}, rs.markAllLeft())
	// Already-Left rooms produce no transition a second time.
	assert.Empty(t, rs.markAllLeft())
}

func TestReconcileStopsOnWriteFailure(t *testing.T) {
	rs := newRoomSet()
	none := func(Envelope) error { return nil }
	rs.requestJoin("conv-a", false, none)
	rs.requestJoin("conv-b", false, none)

	calls := 0
	flaky := func(Envelope) error {
		calls++
		if calls > 1 {
			return errors.New("write: broken pipe")
		}
		return nil
	}
	rejoined := rs.reconcile(flaky)
	assert.Equal(t, []string{"conv-a"}, rejoined)
	assert.Equal(t, RoomPending, rs.snapshot()["conv-a"])
	assert.Equal(t, RoomLeft, rs.snapshot()["conv-b"])
}

func TestFailKeepsDesire(t *testing.T) {
	rs := newRoomSet()
	none := func(Envelope) error { return nil }
	rs.requestJoin("conv-a", true, none)
	rs.fail("conv-a")
	assert.Equal(t, RoomLeft, rs.snapshot()["conv-a"])

	// Desire survives a rejected join; the next reconnect tries again.
	var emitted []Envelope
	ids := rs.reconcile(recordingEmit(&emitted))
	assert.Equal(t, []string{"conv-a"}, ids)
}
