// Package hook lets deployments plug filters into social operations before
// they are committed.
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
// The operation being filtered is rejected.
var ErrInterrupt = errors.New("hook interrupted")

// Hook event names.
const (
	// BeforeMessagePost receives a *MessageDraft. Handlers may rewrite
	// Content or interrupt to reject the message.
	BeforeMessagePost = "before_message_post"
)

// MessageDraft is the message about to be stored.
type MessageDraft struct {
	ChatID      int64
	SenderID    int64
	Content     string
	MessageType string
}

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data any) (any, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations. A nil *HookCenter has no hooks.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds a HookFn for the given event with the given priority (lower runs first).
// name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event][:0]
	for _, e := range hc.hooks[event] {
		if e.name != name {
			entries = append(entries, e)
		}
	}
	hc.hooks[event] = entries
}

// Names lists the hooks registered for event in execution order.
func (hc *HookCenter) Names(event string) []string {
	if hc == nil {
		return nil
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make([]string, 0, len(hc.hooks[event]))
	for _, e := range hc.hooks[event] {
		out = append(out, e.name)
	}
	return out
}

// Trigger executes all registered hooks for event in priority order.
// Data flows through each handler, allowing modification. A handler error
// stops the chain and is returned.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data any) (any, error) {
	if hc == nil {
		return data, nil
	}
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	var err error
	for _, e := range entries {
		data, err = e.fn(ctx, event, data)
		if err != nil {
			return data, err
		}
	}
	return data, nil
}
