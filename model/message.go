package model

import "time"

// Message types accepted by PostMessage.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// ChatMessage is a posted group message. ID is the chat-local sequence number
// taken from ChatGroup.CurrentMessageID.
type ChatMessage struct {
	ChatID      int64     `gorm:"primaryKey;autoIncrement:false" json:"chat_id"`
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SenderID    int64     `gorm:"index:idx_msg_sender;not null" json:"sender_id"`
	Content     string    `gorm:"type:text" json:"content"`
	MessageType string    `gorm:"size:16;not null;default:text" json:"message_type"`
	CreatedAt   time.Time `gorm:"autoCreateTime:milli" json:"created_at"`
}
