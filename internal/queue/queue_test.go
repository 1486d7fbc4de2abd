package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	q := NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := q.Consume(ctx)
	require.NoError(t, err)

	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Publish(ctx, MarkEvent{RecordID: "r", ClassID: int64(i), Slot: i, Date: day}))
	}

	for i := 1; i <= 3; i++ {
		select {
		case evt := <-events:
			assert.Equal(t, int64(i), evt.ClassID)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestInMemoryPublishHonorsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, MarkEvent{}))

	// Queue full: a cancelled context unblocks the publisher.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(cancelled, MarkEvent{}), context.Canceled)
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-events:
		assert.False(t, open, "channel closes after cancellation")
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close")
	}
}
