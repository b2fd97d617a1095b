package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// RedisMessage is the message type returned by RedisPubSub.Subscribe.
type RedisMessage struct {
	Channel string
	Pattern string
	Payload string
}

// RedisPubSub carries notification envelopes between nodes.
type RedisPubSub struct {
	client *goredis.Client
}

// NewPubSub creates a Redis-backed PubSub.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{client: client}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	return r.pump(ctx, r.client.Subscribe(ctx, channels...))
}

// PSubscribe subscribes to glob patterns (Redis PSUBSCRIBE).
func (r *RedisPubSub) PSubscribe(ctx context.Context, patterns ...string) (<-chan *RedisMessage, func(), error) {
	return r.pump(ctx, r.client.PSubscribe(ctx, patterns...))
}

// pump waits for the subscription confirmation, so anything published after
// the call returns is delivered, then forwards messages in order.
func (r *RedisPubSub) pump(ctx context.Context, ps *goredis.PubSub) (<-chan *RedisMessage, func(), error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan *RedisMessage, 256)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			ch <- &RedisMessage{Channel: msg.Channel, Pattern: msg.Pattern, Payload: msg.Payload}
		}
	}()
	return ch, func() { _ = ps.Close() }, nil
}

// Close releases the underlying client.
func (r *RedisPubSub) Close() error {
	return r.client.Close()
}
