package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/broker"
)

func TestMemoryBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := broker.NewMemoryBroker().WithHeartbeat(0)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "job-1", broker.Event{Kind: "progress", Payload: 50}))

	select {
	case ev := <-sub.Events():
		require.Equal(t, "progress", ev.Kind)
		require.Equal(t, 50, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBroker_DropOldestUnderBackpressure(t *testing.T) {
	b := broker.NewMemoryBroker().WithQueueCapacity(2).WithHeartbeat(0)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "job-1", broker.Event{Kind: "progress", Payload: i}))
	}

	// Only the capacity-bound queue's most recent entries survive; the
	// newest published event must always be among what's left.
	var got []int
	for i := 0; i < 2; i++ {
		ev := <-sub.Events()
		got = append(got, ev.Payload.(int))
	}
	require.Equal(t, 4, got[len(got)-1], "the latest event must be preserved under drop-oldest")
}

func TestMemoryBroker_PublishDoesNotBlockOnNoSubscribers(t *testing.T) {
	b := broker.NewMemoryBroker()
	err := b.Publish(context.Background(), "nobody-listening", broker.Event{Kind: "x"})
	require.NoError(t, err)
}

func TestMemoryBroker_CloseRemovesSubscriber(t *testing.T) {
	b := broker.NewMemoryBroker().WithHeartbeat(0)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	sub.Close()

	_, open := <-sub.Events()
	require.False(t, open, "Events channel must be closed after Close")

	// A publish after close must not panic or block, even though the
	// subscriber is gone.
	require.NoError(t, b.Publish(ctx, "job-1", broker.Event{Kind: "x"}))
}

func TestMemoryBroker_HeartbeatSkippedWhenQueueFull(t *testing.T) {
	b := broker.NewMemoryBroker().WithQueueCapacity(1).WithHeartbeat(10 * time.Millisecond)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "job-1", broker.Event{Kind: "progress", Payload: 1}))

	time.Sleep(50 * time.Millisecond)

	ev := <-sub.Events()
	require.Equal(t, "progress", ev.Kind, "a real event must not be evicted by a heartbeat when the queue is full")
}

func TestMemoryBroker_FIFOWithinSubscriber(t *testing.T) {
	b := broker.NewMemoryBroker().WithHeartbeat(0)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, "job-1", broker.Event{Kind: "progress", Payload: i}))
	}

	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		require.Equal(t, i, ev.Payload)
	}
}
