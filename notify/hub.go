// Package notify fans committed social changes out to connected clients.
//
// Every event travels over the shared bus (Redis when configured, in-process
// otherwise) on "notify:<channel>". Each server instance runs one dispatcher
// that pattern-subscribes to the whole family and hands frames to the local
// connections subscribed to the channel at delivery time.
//
// Attach and Detach change this instance's subscriptions before they return,
// so an event published afterwards is routed by the new subscription set. The
// change is also broadcast on the bus for the other instances.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/mmosocial/cache"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	busPrefix      = "notify:"
	controlChannel = busPrefix + "_ctl"

	// joinAttempts bounds JoinChats re-reads while the player's group
	// subscriptions keep changing underneath it.
	joinAttempts = 8
)

// Conn is a client connection able to receive notification frames.
// Deliver must not block.
type Conn interface {
	ID() string
	Deliver(frame []byte)
}

// Notifier is the publishing side used by the social services. Calls are
// fire-and-forget: failures are logged, never returned.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, data any)
	Attach(ctx context.Context, playerID int64, channel string)
	Detach(ctx context.Context, playerID int64, channel string)
}

type room struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

type control struct {
	Origin   string `json:"origin"`
	Op       string `json:"op"`
	PlayerID int64  `json:"player_id"`
	Channel  string `json:"channel"`
}

// Hub is the per-instance subscription registry and bus dispatcher.
type Hub struct {
	id     string
	ps     cache.PubSub
	logger *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]*room
	players map[int64]map[string]Conn      // player → local conns
	owners  map[string]int64               // conn id → player
	joined  map[string]map[string]struct{} // conn id → channels
	epochs  map[int64]uint64               // player → attach/detach count

	cancel func()
	done   chan struct{}
}

// NewHub creates a Hub publishing on ps. Call Start before publishing.
func NewHub(ps cache.PubSub, logger *zap.Logger) *Hub {
	return &Hub{
		id:      uuid.NewString(),
		ps:      ps,
		logger:  logger,
		rooms:   make(map[string]*room),
		players: make(map[int64]map[string]Conn),
		owners:  make(map[string]int64),
		joined:  make(map[string]map[string]struct{}),
		epochs:  make(map[int64]uint64),
	}
}

// Start subscribes to the bus and runs the dispatcher until ctx is done or
// Stop is called. The subscription is live when Start returns.
func (h *Hub) Start(ctx context.Context) error {
	if h.done != nil {
		return errors.New("notify: hub already started")
	}
	ch, cancel, err := h.ps.PSubscribe(ctx, busPrefix+"*")
	if err != nil {
		return err
	}
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx, ch)
	return nil
}

// Stop ends the dispatcher and waits for it to exit.
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Hub) run(ctx context.Context, ch <-chan *cache.Message) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.cancel()
			for range ch {
			}
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg *cache.Message) {
	if msg.Channel == controlChannel {
		var c control
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			h.logger.Warn("notify: bad control message", zap.Error(err))
			return
		}
		if c.Origin == h.id {
			return
		}
		h.applyControl(c)
		return
	}
	channel := strings.TrimPrefix(msg.Channel, busPrefix)
	h.deliver(channel, []byte(msg.Payload))
}

// applyControl changes the group subscriptions of every local connection of
// the player. The epoch moves before the connections do, so JoinChats sees
// any change that overlaps its lookup.
func (h *Hub) applyControl(c control) {
	if c.Op != "attach" && c.Op != "detach" {
		h.logger.Warn("notify: unknown control op", zap.String("op", c.Op))
		return
	}
	h.mu.Lock()
	local := h.players[c.PlayerID]
	if len(local) == 0 {
		h.mu.Unlock()
		return
	}
	h.epochs[c.PlayerID]++
	conns := lo.Values(local)
	h.mu.Unlock()

	for _, conn := range conns {
		if c.Op == "attach" {
			h.Subscribe(conn, c.Channel)
		} else {
			h.Unsubscribe(conn, c.Channel)
		}
	}
}

// deliver hands frame to a snapshot of the channel's current subscribers.
func (h *Hub) deliver(channel string, frame []byte) {
	h.mu.RLock()
	r := h.rooms[channel]
	h.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.RLock()
	snapshot := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		c.Deliver(frame)
	}
}

// Publish encodes {event, data} and sends it to channel on the bus.
func (h *Hub) Publish(ctx context.Context, channel, event string, data any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("notify: encode event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.ps.Publish(ctx, busPrefix+channel, string(frame)); err != nil {
		h.logger.Warn("notify: publish failed",
			zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}

// Attach subscribes every connection of playerID, on every instance, to
// channel. Local connections are subscribed when Attach returns.
func (h *Hub) Attach(ctx context.Context, playerID int64, channel string) {
	h.control(ctx, control{Op: "attach", PlayerID: playerID, Channel: channel})
}

// Detach is the inverse of Attach.
func (h *Hub) Detach(ctx context.Context, playerID int64, channel string) {
	h.control(ctx, control{Op: "detach", PlayerID: playerID, Channel: channel})
}

func (h *Hub) control(ctx context.Context, c control) {
	c.Origin = h.id
	h.applyControl(c)
	payload, _ := json.Marshal(c)
	if err := h.ps.Publish(ctx, controlChannel, string(payload)); err != nil {
		h.logger.Warn("notify: control publish failed",
			zap.String("op", c.Op), zap.Int64("player_id", c.PlayerID),
			zap.String("channel", c.Channel), zap.Error(err))
	}
}

// Register binds a new connection to the player's personal channel and to
// each of the given group chats.
func (h *Hub) Register(conn Conn, playerID int64, chatIDs []int64) {
	h.mu.Lock()
	if h.players[playerID] == nil {
		h.players[playerID] = make(map[string]Conn)
	}
	h.players[playerID][conn.ID()] = conn
	h.owners[conn.ID()] = playerID
	h.mu.Unlock()

	h.Subscribe(conn, PlayerChannel(playerID))
	for _, id := range chatIDs {
		h.Subscribe(conn, ChatChannel(id))
	}
}

// JoinChats subscribes a registered conn to the group chats lookup returns.
// If an Attach or Detach for the player lands while the lookup runs, the
// lookup is repeated and the conn's chat subscriptions are reconciled to the
// fresh result, so a membership change that committed after the read is not
// undone by subscribing from a stale list.
func (h *Hub) JoinChats(ctx context.Context, conn Conn, lookup func(context.Context) ([]int64, error)) error {
	h.mu.RLock()
	pid, ok := h.owners[conn.ID()]
	h.mu.RUnlock()
	if !ok {
		return errors.New("notify: connection not registered")
	}

	for attempt := 1; ; attempt++ {
		epoch := h.epoch(pid)
		ids, err := lookup(ctx)
		if err != nil {
			return err
		}
		h.reconcileChats(conn, ids)
		if h.epoch(pid) == epoch {
			return nil
		}
		if attempt == joinAttempts {
			h.logger.Warn("notify: chat subscriptions still changing after join",
				zap.Int64("player_id", pid), zap.Int("attempts", attempt))
			return nil
		}
	}
}

func (h *Hub) epoch(playerID int64) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epochs[playerID]
}

// reconcileChats makes conn's chat:* subscriptions equal to ids.
func (h *Hub) reconcileChats(conn Conn, ids []int64) {
	want := lo.Map(ids, func(id int64, _ int) string { return ChatChannel(id) })
	have := lo.Filter(h.Channels(conn), func(ch string, _ int) bool { return strings.HasPrefix(ch, chatPrefix) })
	for _, ch := range lo.Without(have, want...) {
		h.Unsubscribe(conn, ch)
	}
	for _, ch := range want {
		h.Subscribe(conn, ch)
	}
}

// Unregister drops every subscription held by conn.
func (h *Hub) Unregister(conn Conn) {
	id := conn.ID()
	h.mu.Lock()
	if pid, ok := h.owners[id]; ok {
		delete(h.players[pid], id)
		if len(h.players[pid]) == 0 {
			delete(h.players, pid)
			delete(h.epochs, pid)
		}
		delete(h.owners, id)
	}
	channels := h.joined[id]
	delete(h.joined, id)
	h.mu.Unlock()

	for ch := range channels {
		h.removeFromRoom(ch, id)
	}
}

// Subscribe adds conn to channel on this instance only.
func (h *Hub) Subscribe(conn Conn, channel string) {
	h.mu.Lock()
	r := h.rooms[channel]
	if r == nil {
		r = &room{conns: make(map[string]Conn)}
		h.rooms[channel] = r
	}
	if h.joined[conn.ID()] == nil {
		h.joined[conn.ID()] = make(map[string]struct{})
	}
	h.joined[conn.ID()][channel] = struct{}{}
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
	h.mu.Unlock()
}

// Unsubscribe removes conn from channel on this instance only.
func (h *Hub) Unsubscribe(conn Conn, channel string) {
	h.mu.Lock()
	if set := h.joined[conn.ID()]; set != nil {
		delete(set, channel)
	}
	h.mu.Unlock()
	h.removeFromRoom(channel, conn.ID())
}

func (h *Hub) removeFromRoom(channel, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[channel]
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.conns, connID)
	empty := len(r.conns) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, channel)
	}
}

// Subscribers returns the number of local connections on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	r := h.rooms[channel]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Channels lists the channels conn is subscribed to.
func (h *Hub) Channels(conn Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[conn.ID()]))
	for ch := range h.joined[conn.ID()] {
		out = append(out, ch)
	}
	return out
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Players     int `json:"players"`
	Channels    int `json:"channels"`
}

// Stats reports registry sizes for the admin endpoint.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Connections: len(h.owners), Players: len(h.players), Channels: len(h.rooms)}
}
