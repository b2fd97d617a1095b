package local

import (
	"context"
	"path"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Pattern string
	Payload string
}

type subscriber struct {
	ch chan *LocalMessage
}

// LocalPubSub is an in-process fan-out pub/sub implementation. Pattern
// subscriptions use glob syntax (path.Match), which covers the subset of
// Redis PSUBSCRIBE patterns the server relies on.
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	patterns    map[string][]*subscriber
	bufSize     int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*subscriber),
		patterns:    make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel and to
// every pattern subscriber whose pattern matches it.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, s := range ps.subscribers[channel] {
		s.offer(&LocalMessage{Channel: channel, Payload: message})
	}
	for pattern, subs := range ps.patterns {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, s := range subs {
			s.offer(&LocalMessage{Channel: channel, Pattern: pattern, Payload: message})
		}
	}
	return nil
}

func (s *subscriber) offer(msg *LocalMessage) {
	select {
	case s.ch <- msg:
	default:
		// Drop message if buffer is full (non-blocking)
	}
}

// Subscribe returns a channel of messages for the given channels, and a cancel function.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	return ps.subscribe(ps.subscribers, channels)
}

// PSubscribe is Subscribe for glob patterns.
func (ps *LocalPubSub) PSubscribe(_ context.Context, patterns ...string) (<-chan *LocalMessage, func(), error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, nil, err
		}
	}
	return ps.subscribe(ps.patterns, patterns)
}

func (ps *LocalPubSub) subscribe(index map[string][]*subscriber, keys []string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)
	s := &subscriber{ch: ch}

	ps.mu.Lock()
	for _, k := range keys {
		index[k] = append(index[k], s)
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for _, k := range keys {
				list := index[k]
				for j, sub := range list {
					if sub == s {
						index[k] = append(list[:j:j], list[j+1:]...)
						break
					}
				}
				if len(index[k]) == 0 {
					delete(index, k)
				}
			}
			close(ch)
		})
	}

	return ch, cancel, nil
}
