package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records committed social mutations.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_audit_trace;size:64" json:"trace_id"`
	ActorID   int64          `gorm:"index:idx_audit_actor;not null" json:"actor_id"`
	TargetID  *int64         `json:"target_id"`
	ChatID    *int64         `gorm:"index:idx_audit_chat" json:"chat_id"`
	Action    string         `gorm:"size:64;not null" json:"action"`
	Payload   datatypes.JSON `json:"payload"`
	Error     string         `gorm:"type:text" json:"error"`
	IP        string         `gorm:"size:45" json:"ip"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
