package model

import "time"

// Player is the identity row this service reads. Profile and avatar contents
// live elsewhere; only their version counters are kept here so friends can
// tell when a cached copy is stale.
type Player struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username       string    `gorm:"uniqueIndex;size:32;not null" json:"username"`
	ProfileVersion int64     `gorm:"not null;default:1" json:"profile_version"`
	AvatarVersion  int64     `gorm:"not null;default:1" json:"avatar_version"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
