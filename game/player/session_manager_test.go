package player

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/mmosocial/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSessionManager_MultipleSessionsPerPlayer(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	sm := NewSessionManager(c, time.Minute, zap.NewNop())
	ctx := context.Background()

	s1 := NewStreamSession(1, "alice", zap.NewNop())
	s2 := NewStreamSession(1, "alice", zap.NewNop())
	s3 := NewStreamSession(2, "bob", zap.NewNop())
	sm.Register(ctx, s1)
	sm.Register(ctx, s2)
	sm.Register(ctx, s3)

	assert.Equal(t, 3, sm.Count())
	assert.Equal(t, 2, sm.PlayerCount())
	assert.Len(t, sm.Sessions(1), 2)
	assert.True(t, sm.IsOnline(ctx, 1))

	members, err := c.SMembers(ctx, PresenceKey(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s1.ConnID, s2.ConnID}, members)

	sm.Unregister(ctx, s1)
	assert.True(t, sm.IsOnline(ctx, 1))
	sm.Unregister(ctx, s2)
	assert.False(t, sm.IsOnline(ctx, 1))
	assert.Equal(t, map[int64]bool{2: true}, sm.OnlineSet(ctx, []int64{1, 2, 3}))
}

func TestSessionManager_Kick(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	sm := NewSessionManager(c, time.Minute, zap.NewNop())
	ctx := context.Background()

	s1 := NewStreamSession(7, "x", zap.NewNop())
	s2 := NewStreamSession(7, "x", zap.NewNop())
	sm.Register(ctx, s1)
	sm.Register(ctx, s2)

	assert.Equal(t, 2, sm.Kick(7))
	assert.True(t, s1.IsClosed())
	assert.True(t, s2.IsClosed())
	assert.Equal(t, 0, sm.Kick(8))
}

func TestSessionManager_PresenceExpiresWithoutRefresh(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	sm := NewSessionManager(c, 60*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	s := NewStreamSession(3, "c", zap.NewNop())
	sm.Register(ctx, s)
	assert.True(t, sm.IsOnline(ctx, 3))

	time.Sleep(40 * time.Millisecond)
	sm.RefreshPresence(ctx)
	time.Sleep(40 * time.Millisecond)
	assert.True(t, sm.IsOnline(ctx, 3), "refresh must extend the TTL")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, sm.IsOnline(ctx, 3))
}

func TestSessionManager_LastSeen(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	sm := NewSessionManager(c, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, ok := sm.LastSeen(ctx, 4)
	assert.False(t, ok)

	s1 := NewStreamSession(4, "d", zap.NewNop())
	s2 := NewStreamSession(4, "d", zap.NewNop())
	sm.Register(ctx, s1)
	sm.Register(ctx, s2)

	sm.Unregister(ctx, s1)
	_, ok = sm.LastSeen(ctx, 4)
	assert.False(t, ok, "still connected through s2")

	before := time.Now().Add(-time.Millisecond)
	sm.Unregister(ctx, s2)
	at, ok := sm.LastSeen(ctx, 4)
	require.True(t, ok)
	assert.True(t, at.After(before))
	assert.WithinDuration(t, time.Now(), at, time.Second)
}

func TestPlayerSession_SendRawAfterClose(t *testing.T) {
	s := NewStreamSession(1, "a", zap.NewNop())
	s.Deliver([]byte(`{"event":"x"}`))
	assert.Len(t, s.SendChan, 1)

	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
	s.Deliver([]byte(`{"event":"y"}`))
	assert.Len(t, s.SendChan, 1)
}

func TestPlayerSession_Pong(t *testing.T) {
	s := NewStreamSession(1, "a", zap.NewNop())
	s.SendHeartbeatPong(123)
	frame := <-s.SendChan
	assert.Contains(t, string(frame), `"type":"pong"`)
	assert.Contains(t, string(frame), `"client_ts":123`)
	assert.NotEmpty(t, s.ID())
}
