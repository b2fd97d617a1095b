package notify

import (
	"context"
	"sync"
)

// Call is one recorded Notifier invocation. Op is "publish", "attach" or "detach".
type Call struct {
	Op       string
	Channel  string
	Event    string
	Data     any
	PlayerID int64
}

// Recorder is a Notifier that keeps every call in order. Services are tested
// against it to assert exactly what was published after commit.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) Publish(_ context.Context, channel, event string, data any) {
	r.add(Call{Op: "publish", Channel: channel, Event: event, Data: data})
}

func (r *Recorder) Attach(_ context.Context, playerID int64, channel string) {
	r.add(Call{Op: "attach", Channel: channel, PlayerID: playerID})
}

func (r *Recorder) Detach(_ context.Context, playerID int64, channel string) {
	r.add(Call{Op: "detach", Channel: channel, PlayerID: playerID})
}

func (r *Recorder) add(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls returns a copy of everything recorded so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// On returns the published calls for channel.
func (r *Recorder) On(channel string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == "publish" && c.Channel == channel {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
