package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds a cached string value with an optional expiry.
type entry struct {
	data     string
	expireAt time.Time
	noExpiry bool
}

func (e *entry) expired() bool {
	return !e.noExpiry && time.Now().After(e.expireAt)
}

// LocalCache is the in-process presence store used when no Redis is configured.
type LocalCache struct {
	kv         sync.Map // key → *entry
	sets       sync.Map // key → *lockedSet
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.kv.Range(func(k, v interface{}) bool {
				if e, ok := v.(*entry); ok && e.expired() {
					c.kv.Delete(k)
				}
				return true
			})
			c.sets.Range(func(k, v interface{}) bool {
				if s, ok := v.(*lockedSet); ok && s.expired() {
					c.sets.Delete(k)
				}
				return true
			})
		case <-c.stopGC:
			return
		}
	}
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	v, ok := c.kv.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	e := v.(*entry)
	if e.expired() {
		c.kv.Delete(key)
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}
	c.kv.Store(key, e)
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.kv.Delete(k)
		c.sets.Delete(k)
	}
	return nil
}

// ---- Set ----

type lockedSet struct {
	mu       sync.RWMutex
	members  map[string]struct{}
	expireAt time.Time // zero means no expiry
}

// expired reports whether the TTL passed. A set past its TTL reads as empty
// until GC removes it.
func (s *lockedSet) expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked()
}

func (s *lockedSet) expiredLocked() bool {
	return !s.expireAt.IsZero() && time.Now().After(s.expireAt)
}

func (s *lockedSet) card() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		return 0
	}
	return len(s.members)
}

func (c *LocalCache) loadSet(key string) (*lockedSet, bool) {
	v, ok := c.sets.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*lockedSet), true
}

func (c *LocalCache) getOrCreateSet(key string) *lockedSet {
	v, _ := c.sets.LoadOrStore(key, &lockedSet{members: make(map[string]struct{})})
	return v.(*lockedSet)
}

// SAddTTL adds members and moves the set's expiry to now+ttl. A ttl <= 0
// leaves the set without expiry.
func (c *LocalCache) SAddTTL(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s := c.getOrCreateSet(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked() {
		s.members = make(map[string]struct{})
	}
	for _, m := range members {
		s.members[m] = struct{}{}
	}
	if ttl > 0 {
		s.expireAt = time.Now().Add(ttl)
	} else {
		s.expireAt = time.Time{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	s, ok := c.loadSet(key)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.members, m)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	s, ok := c.loadSet(key)
	if !ok {
		return []string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked() {
		return []string{}, nil
	}
	result := make([]string, 0, len(s.members))
	for m := range s.members {
		result = append(result, m)
	}
	return result, nil
}

func (c *LocalCache) SCard(_ context.Context, key string) (int64, error) {
	s, ok := c.loadSet(key)
	if !ok {
		return 0, nil
	}
	return int64(s.card()), nil
}
