package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubBasic(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "document:quests")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "document:quests", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "document:quests", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestPubSubUnsubscribe(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "ch")
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}

	assert.NoError(t, ps.Publish(ctx, "ch", "msg"))
	assert.Equal(t, 0, ps.SubscriberCount("ch"))
}

func TestPubSubContextCancel(t *testing.T) {
	ps := NewPubSub(16)
	ctx, stop := context.WithCancel(context.Background())

	ch, _, err := ps.Subscribe(ctx, "ch")
	require.NoError(t, err)
	stop()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on context cancel")
	}
}

func TestPubSubMultipleSubscribers(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch1, cancel1, _ := ps.Subscribe(ctx, "broadcast")
	ch2, cancel2, _ := ps.Subscribe(ctx, "broadcast")
	defer cancel1()
	defer cancel2()
	assert.Equal(t, 2, ps.SubscriberCount("broadcast"))

	require.NoError(t, ps.Publish(ctx, "broadcast", "world"))

	for _, ch := range []<-chan *LocalMessage{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "world", msg.Payload)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestPubSubFullBufferDrops(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()
	ch, cancel, _ := ps.Subscribe(ctx, "c")
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "c", "first"))
	require.NoError(t, ps.Publish(ctx, "c", "second")) // dropped, must not block

	msg := <-ch
	assert.Equal(t, "first", msg.Payload)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected message %q", extra.Payload)
	default:
	}
}
