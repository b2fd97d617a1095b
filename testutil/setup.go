package testutil

import (
	"testing"

	"github.com/kasuganosora/mmosocial/cache"
	dbsqlite "github.com/kasuganosora/mmosocial/db/sqlite"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbsqlite.OpenMemory()
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	t.Cleanup(func() { _ = ps.Close() })
	return c, ps
}

// CreatePlayer inserts a player row the way the identity subsystem would.
func CreatePlayer(t *testing.T, db *gorm.DB, username string) *model.Player {
	t.Helper()
	p := &model.Player{Username: username, ProfileVersion: 1, AvatarVersion: 1}
	require.NoError(t, db.Create(p).Error, "CreatePlayer %s", username)
	return p
}

// MakeFriends inserts an accepted link pair between a and b.
func MakeFriends(t *testing.T, db *gorm.DB, a, b int64) {
	t.Helper()
	require.NoError(t, db.Create(&[]model.FriendLink{
		{OwnerID: a, PeerID: b, Status: model.FriendAccepted, FriendVersion: 1},
		{OwnerID: b, PeerID: a, Status: model.FriendAccepted, FriendVersion: 1},
	}).Error)
}
