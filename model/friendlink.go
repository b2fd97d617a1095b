package model

import "time"

// FriendStatus is the owner's view of a friend link.
type FriendStatus string

const (
	FriendPendingSent     FriendStatus = "pending_sent"
	FriendPendingReceived FriendStatus = "pending_received"
	FriendAccepted        FriendStatus = "accepted"
)

// FriendLink is one directed half of a friendship. Links always exist in
// pairs: (A,B,pending_sent) with (B,A,pending_received), or two accepted rows.
type FriendLink struct {
	ID            int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID       int64        `gorm:"uniqueIndex:idx_friend_pair;not null" json:"owner_id"`
	PeerID        int64        `gorm:"uniqueIndex:idx_friend_pair;index:idx_friend_peer;not null" json:"peer_id"`
	Status        FriendStatus `gorm:"size:16;not null" json:"status"`
	FriendVersion int64        `gorm:"not null;default:1" json:"friend_version"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// Reverse returns the status the peer's row must carry for this one to be consistent.
func (s FriendStatus) Reverse() FriendStatus {
	switch s {
	case FriendPendingSent:
		return FriendPendingReceived
	case FriendPendingReceived:
		return FriendPendingSent
	default:
		return s
	}
}
