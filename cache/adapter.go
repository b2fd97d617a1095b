package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/mmosocial/cache/local"
	cacheredis "github.com/kasuganosora/mmosocial/cache/redis"
)

// ErrNotFound is returned by Get when the key does not exist, whatever the backend.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the shared presence store: short-lived string keys and
// connection-id sets that expire unless refreshed.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Set
	// SAddTTL adds members and resets the set's TTL in one step.
	SAddTTL(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	Close()
}

// Message is a received pub/sub message. Pattern is set for messages
// delivered through PSubscribe.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
	PSubscribe(ctx context.Context, patterns ...string) (<-chan *Message, func(), error)
	Close() error
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// IsNotFound reports whether err is a missing-key error from either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return local.NewCache(local.Config{
		GCInterval: cfg.LocalGCInterval,
	})
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalPubSub wrapped in an adapter.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisPubSubAdapter{ps: rps}, nil
	}
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize), bufSize: bufSize}, nil
}

// ---- adapters to bridge sub-package message types to cache.Message ----

type localPubSubAdapter struct {
	ps      *local.LocalPubSub
	bufSize int
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(localCh, a.bufSize, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}
	}), cancel, nil
}

func (a *localPubSubAdapter) PSubscribe(ctx context.Context, patterns ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.PSubscribe(ctx, patterns...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(localCh, a.bufSize, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}
	}), cancel, nil
}

func (a *localPubSubAdapter) Close() error { return nil }

type redisPubSubAdapter struct {
	ps *cacheredis.RedisPubSub
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(redisCh, 256, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}
	}), cancel, nil
}

func (a *redisPubSubAdapter) PSubscribe(ctx context.Context, patterns ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.PSubscribe(ctx, patterns...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(redisCh, 256, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}
	}), cancel, nil
}

func (a *redisPubSubAdapter) Close() error { return a.ps.Close() }

func bridge[T any](in <-chan T, size int, conv func(T) *Message) <-chan *Message {
	out := make(chan *Message, size)
	go func() {
		defer close(out)
		for msg := range in {
			out <- conv(msg)
		}
	}()
	return out
}
