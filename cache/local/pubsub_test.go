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

	ch, cancel, err := ps.Subscribe(ctx, "test-channel")
	require.NoError(t, err)
	defer cancel()

	err = ps.Publish(ctx, "test-channel", "hello")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "test-channel", msg.Channel)
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

	cancel() // unsubscribe

	// Channel should be closed
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}

	// Publish to unsubscribed channel should not block
	err = ps.Publish(ctx, "ch", "msg")
	assert.NoError(t, err)
}

func TestPubSubMultipleSubscribers(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch1, cancel1, _ := ps.Subscribe(ctx, "broadcast")
	ch2, cancel2, _ := ps.Subscribe(ctx, "broadcast")
	defer cancel1()
	defer cancel2()

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

func TestPSubscribe_MatchesPattern(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.PSubscribe(ctx, "notify:*")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "notify:player:1", "a"))
	require.NoError(t, ps.Publish(ctx, "other:player:1", "b"))
	require.NoError(t, ps.Publish(ctx, "notify:chat:7", "c"))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			assert.Equal(t, "notify:*", msg.Pattern)
			got = append(got, msg.Channel+"="+msg.Payload)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for pattern message")
		}
	}
	assert.Equal(t, []string{"notify:player:1=a", "notify:chat:7=c"}, got)

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %v", msg)
	default:
	}
}

func TestPSubscribe_BadPattern(t *testing.T) {
	ps := NewPubSub(16)
	_, _, err := ps.PSubscribe(context.Background(), "notify:[")
	assert.Error(t, err)
}

func TestPubSubCancelTwice(t *testing.T) {
	ps := NewPubSub(16)
	_, cancel, err := ps.PSubscribe(context.Background(), "x:*")
	require.NoError(t, err)
	cancel()
	assert.NotPanics(t, cancel)
	assert.NoError(t, ps.Publish(context.Background(), "x:1", "after"))
}
