package player

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/mmosocial/cache"
	"go.uber.org/zap"
)

// PresenceKey is the cache set holding a player's live connection ids.
func PresenceKey(playerID int64) string {
	return "presence:" + strconv.FormatInt(playerID, 10)
}

// LastSeenKey holds the unix-millis time the player's last connection closed.
func LastSeenKey(playerID int64) string {
	return "last_seen:" + strconv.FormatInt(playerID, 10)
}

const lastSeenTTL = 30 * 24 * time.Hour

// SessionManager maintains the registry of connected sessions on this
// instance and mirrors it into the shared cache so that presence is visible
// across instances.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]map[string]*PlayerSession // playerID → connID → session
	cache    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager. presenceTTL bounds how long
// a crashed instance keeps its players looking online.
func NewSessionManager(c cache.Cache, presenceTTL time.Duration, logger *zap.Logger) *SessionManager {
	if presenceTTL <= 0 {
		presenceTTL = 90 * time.Second
	}
	return &SessionManager{
		sessions: make(map[int64]map[string]*PlayerSession),
		cache:    c,
		ttl:      presenceTTL,
		logger:   logger,
	}
}

// Register adds a session and marks its player present.
func (sm *SessionManager) Register(ctx context.Context, s *PlayerSession) {
	sm.mu.Lock()
	if sm.sessions[s.PlayerID] == nil {
		sm.sessions[s.PlayerID] = make(map[string]*PlayerSession)
	}
	sm.sessions[s.PlayerID][s.ConnID] = s
	n := len(sm.sessions[s.PlayerID])
	sm.mu.Unlock()

	key := PresenceKey(s.PlayerID)
	if err := sm.cache.SAddTTL(ctx, key, sm.ttl, s.ConnID); err != nil {
		sm.logger.Warn("presence add failed", zap.Int64("player_id", s.PlayerID), zap.Error(err))
	}
	sm.logger.Info("player session registered",
		zap.Int64("player_id", s.PlayerID),
		zap.String("conn_id", s.ConnID),
		zap.String("transport", s.Transport),
		zap.Int("player_sessions", n))
}

// Unregister removes a session. When the player has no connection left on
// any instance, the disconnect time is recorded as last seen.
func (sm *SessionManager) Unregister(ctx context.Context, s *PlayerSession) {
	sm.mu.Lock()
	if set := sm.sessions[s.PlayerID]; set != nil {
		delete(set, s.ConnID)
		if len(set) == 0 {
			delete(sm.sessions, s.PlayerID)
		}
	}
	sm.mu.Unlock()

	if err := sm.cache.SRem(ctx, PresenceKey(s.PlayerID), s.ConnID); err != nil {
		sm.logger.Warn("presence remove failed", zap.Int64("player_id", s.PlayerID), zap.Error(err))
	} else if !sm.IsOnline(ctx, s.PlayerID) {
		ms := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := sm.cache.Set(ctx, LastSeenKey(s.PlayerID), ms, lastSeenTTL); err != nil {
			sm.logger.Warn("last seen write failed", zap.Int64("player_id", s.PlayerID), zap.Error(err))
		}
	}
	sm.logger.Info("player session unregistered",
		zap.Int64("player_id", s.PlayerID),
		zap.String("conn_id", s.ConnID))
}

// Sessions returns a snapshot of the player's local sessions.
func (sm *SessionManager) Sessions(playerID int64) []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions[playerID]))
	for _, s := range sm.sessions[playerID] {
		out = append(out, s)
	}
	return out
}

// IsOnline reports whether the player has a live connection on any instance.
func (sm *SessionManager) IsOnline(ctx context.Context, playerID int64) bool {
	n, err := sm.cache.SCard(ctx, PresenceKey(playerID))
	if err != nil {
		sm.mu.RLock()
		defer sm.mu.RUnlock()
		return len(sm.sessions[playerID]) > 0
	}
	return n > 0
}

// LastSeen returns when the player's last connection closed. ok is false
// if no disconnect was recorded within the retention window.
func (sm *SessionManager) LastSeen(ctx context.Context, playerID int64) (t time.Time, ok bool) {
	v, err := sm.cache.Get(ctx, LastSeenKey(playerID))
	if err != nil {
		if !cache.IsNotFound(err) {
			sm.logger.Warn("last seen read failed", zap.Int64("player_id", playerID), zap.Error(err))
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// OnlineSet returns the subset of ids that are online.
func (sm *SessionManager) OnlineSet(ctx context.Context, ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if sm.IsOnline(ctx, id) {
			out[id] = true
		}
	}
	return out
}

// Count returns the number of local sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	n := 0
	for _, set := range sm.sessions {
		n += len(set)
	}
	return n
}

// PlayerCount returns the number of distinct players connected locally.
func (sm *SessionManager) PlayerCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions))
	for _, set := range sm.sessions {
		for _, s := range set {
			out = append(out, s)
		}
	}
	return out
}

// Kick closes every local session of a player and returns how many were closed.
func (sm *SessionManager) Kick(playerID int64) int {
	sessions := sm.Sessions(playerID)
	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		sm.logger.Info("player kicked", zap.Int64("player_id", playerID), zap.Int("sessions", len(sessions)))
	}
	return len(sessions)
}

// RefreshPresence re-asserts every local session in the cache and extends
// the TTL. Run periodically by the scheduler.
func (sm *SessionManager) RefreshPresence(ctx context.Context) {
	sm.mu.RLock()
	byPlayer := make(map[int64][]string, len(sm.sessions))
	for pid, set := range sm.sessions {
		for id := range set {
			byPlayer[pid] = append(byPlayer[pid], id)
		}
	}
	sm.mu.RUnlock()

	for pid, ids := range byPlayer {
		key := PresenceKey(pid)
		if err := sm.cache.SAddTTL(ctx, key, sm.ttl, ids...); err != nil {
			sm.logger.Warn("presence refresh failed", zap.Int64("player_id", pid), zap.Error(err))
		}
	}
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sessions := sm.All()
	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for all sessions to close (with timeout)
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if sm.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
