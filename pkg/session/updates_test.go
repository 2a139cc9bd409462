package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNeverBlocksOnStalledSubscriber(t *testing.T) {
	b := newUpdateBus()
	t.Cleanup(b.close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := b.subscribe(ctx)
	require.NoError(t, err)

	// The subscriber never reads: every buffer between publisher and consumer
	// fills up. Publication must still return promptly every time.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.publish(Update{Kind: UpdateKindSession, Session: &Session{Status: StatusConnecting}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestUpdatesDeliveredInOrder(t *testing.T) {
	b := newUpdateBus()
	t.Cleanup(b.close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := b.subscribe(ctx)
	require.NoError(t, err)

	b.publish(Update{Kind: UpdateKindRoom, Room: &RoomUpdate{ConversationID: "conv-a", State: "pending"}})
	b.publish(Update{Kind: UpdateKindRoom, Room: &RoomUpdate{ConversationID: "conv-a", State: "joined"}})

	first := receiveUpdate(t, updates)
	second := receiveUpdate(t, updates)
	assert.Equal(t, "pending", first.Room.State)
	assert.Equal(t, "joined", second.Room.State)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := newUpdateBus()
	b.close()
	b.publish(Update{Kind: UpdateKindSession, Session: &Session{}})
	b.close()
}

func receiveUpdate(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}
