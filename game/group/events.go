package group

import (
	"time"

	"github.com/kasuganosora/mmosocial/model"
)

// CreatedEvent carries full chat metadata to a player who has no prior
// Membership row to invalidate.
type CreatedEvent struct {
	GroupID       int64   `json:"group_id"`
	GroupName     string  `json:"group_name"`
	Description   string  `json:"description"`
	AvatarVersion int64   `json:"avatar_version"`
	AdminIDs      []int64 `json:"admin_ids"`
	MemberIDs     []int64 `json:"member_ids"`
	CreatorID     int64   `json:"creator_id"`
}

func createdEvent(chat *model.ChatGroup) CreatedEvent {
	return CreatedEvent{
		GroupID:       chat.ID,
		GroupName:     chat.Name,
		Description:   chat.Description,
		AvatarVersion: chat.AvatarVersion,
		AdminIDs:      append([]int64(nil), chat.AdminIDs...),
		MemberIDs:     append([]int64(nil), chat.MemberIDs...),
		CreatorID:     chat.CreatorID,
	}
}

type MemberEvent struct {
	GroupID int64 `json:"group_id"`
	UserID  int64 `json:"user_id"`
}

type AdminEvent struct {
	GroupID int64 `json:"group_id"`
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}

type AvatarEvent struct {
	GroupID       int64 `json:"group_id"`
	AvatarVersion int64 `json:"avatar_version"`
}

type MessageEvent struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	SenderID    int64     `json:"sender_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	MessageType string    `json:"message_type"`
}
