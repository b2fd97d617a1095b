package model

import (
	"time"

	"gorm.io/datatypes"
)

// ChatGroup is a multi-party chat. AdminIDs is always a subset of MemberIDs,
// and the row is deleted as soon as MemberIDs becomes empty.
type ChatGroup struct {
	ID               int64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string                     `gorm:"size:64" json:"name"`
	Description      string                     `gorm:"type:text" json:"description"`
	AvatarRef        string                     `gorm:"size:255" json:"avatar_ref"`
	AvatarVersion    int64                      `gorm:"not null;default:1" json:"avatar_version"`
	MemberIDs        datatypes.JSONSlice[int64] `json:"member_ids"`
	AdminIDs         datatypes.JSONSlice[int64] `json:"admin_ids"`
	CurrentMessageID int64                      `gorm:"not null;default:0" json:"current_message_id"`
	CreatorID        int64                      `gorm:"not null" json:"creator_id"`
	CreatedAt        time.Time                  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Membership is one player's private view of a chat.
type Membership struct {
	PlayerID          int64      `gorm:"primaryKey;autoIncrement:false" json:"player_id"`
	ChatID            int64      `gorm:"primaryKey;autoIncrement:false;index:idx_membership_chat" json:"chat_id"`
	UnreadCount       int64      `gorm:"not null;default:0" json:"unread_count"`
	Muted             bool       `gorm:"not null;default:false" json:"muted"`
	MuteUntil         *time.Time `gorm:"index:idx_membership_mute" json:"mute_until"`
	GroupVersion      int64      `gorm:"not null;default:1" json:"group_version"`
	AvatarVersion     int64      `gorm:"not null;default:1" json:"avatar_version"`
	MessageVersion    int64      `gorm:"not null;default:1" json:"message_version"`
	LastReadMessageID int64      `gorm:"not null;default:0" json:"last_read_message_id"`
	JoinedAt          time.Time  `gorm:"autoCreateTime" json:"joined_at"`
}
