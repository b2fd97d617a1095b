package group

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/plugin/hook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var messageTypes = map[string]bool{
	model.MessageTypeText:   true,
	model.MessageTypeImage:  true,
	model.MessageTypeSystem: true,
}

// PostMessage appends a message to the chat. Every member's message_version
// is bumped and every member except the sender gains one unread.
func (s *Service) PostMessage(ctx context.Context, sender, chatID int64, content, msgType string) (*model.ChatMessage, error) {
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !messageTypes[msgType] {
		return nil, apperr.ErrInvalidArgument.WithMsg("unknown message type %q", msgType)
	}
	draft := &hook.MessageDraft{ChatID: chatID, SenderID: sender, Content: content, MessageType: msgType}
	if _, err := s.hooks.Trigger(ctx, hook.BeforeMessagePost, draft); err != nil {
		if errors.Is(err, hook.ErrInterrupt) {
			return nil, apperr.ErrInvalidArgument.WithMsg("message rejected")
		}
		return nil, s.fail("post_message", err)
	}
	content = draft.Content
	if strings.TrimSpace(content) == "" {
		return nil, apperr.ErrInvalidArgument.WithMsg("message is empty")
	}
	if utf8.RuneCountInString(content) > s.limits.MaxMessageLen {
		return nil, apperr.ErrInvalidArgument.WithMsg("message longer than %d characters", s.limits.MaxMessageLen)
	}

	var msg *model.ChatMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !isMember(chat, sender) {
			return apperr.ErrNotMember
		}
		if err := tx.Model(&model.ChatGroup{}).Where("id = ?", chatID).
			UpdateColumn("current_message_id", gorm.Expr("current_message_id + ?", 1)).Error; err != nil {
			return err
		}
		if err := tx.Select("current_message_id").First(chat, chatID).Error; err != nil {
			return err
		}
		msg = &model.ChatMessage{
			ChatID:      chatID,
			ID:          chat.CurrentMessageID,
			SenderID:    sender,
			Content:     content,
			MessageType: msgType,
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := bumpMemberships(tx, chatID, "message_version"); err != nil {
			return err
		}
		if err := bumpMemberships(tx, chatID, "unread_count", sender); err != nil {
			return err
		}
		return tx.Model(&model.Membership{}).
			Where("chat_id = ? AND player_id = ?", chatID, sender).
			Updates(map[string]interface{}{"last_read_message_id": msg.ID, "unread_count": 0}).Error
	})
	if err != nil {
		return nil, s.fail("post_message", err)
	}

	s.notifier.Publish(ctx, notify.ChatChannel(chatID), notify.EventMessageReceived, MessageEvent{
		ID:          msg.ID,
		ChatID:      chatID,
		SenderID:    sender,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		MessageType: msg.MessageType,
	})
	return msg, nil
}

// MarkRead moves the reader's read cursor forward to messageID and recounts
// unread messages after it. A cursor never moves backwards.
func (s *Service) MarkRead(ctx context.Context, playerID, chatID, messageID int64) (*model.Membership, error) {
	var m model.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat model.ChatGroup
		if err := tx.Select("id", "current_message_id").First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound.WithMsg("chat %d not found", chatID)
			}
			return err
		}
		if messageID < 0 || messageID > chat.CurrentMessageID {
			return apperr.ErrInvalidArgument.WithMsg("message %d does not exist", messageID)
		}
		if err := lockMembership(tx, playerID, chatID, &m); err != nil {
			return err
		}
		if messageID <= m.LastReadMessageID {
			return nil
		}
		var unread int64
		if err := tx.Model(&model.ChatMessage{}).
			Where("chat_id = ? AND id > ? AND sender_id <> ?", chatID, messageID, playerID).
			Count(&unread).Error; err != nil {
			return err
		}
		m.LastReadMessageID = messageID
		m.UnreadCount = unread
		return tx.Model(&model.Membership{}).
			Where("chat_id = ? AND player_id = ?", chatID, playerID).
			Updates(map[string]interface{}{"last_read_message_id": messageID, "unread_count": unread}).Error
	})
	if err != nil {
		return nil, s.fail("mark_read", err)
	}
	return &m, nil
}

// Messages returns up to limit messages with id greater than afterID, oldest
// first. Only members may read.
func (s *Service) Messages(ctx context.Context, viewer, chatID, afterID int64, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := s.db.WithContext(ctx)
	var m model.Membership
	if err := db.Where("chat_id = ? AND player_id = ?", chatID, viewer).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotMember
		}
		return nil, s.fail("messages", err)
	}
	var msgs []model.ChatMessage
	if err := db.Where("chat_id = ? AND id > ?", chatID, afterID).
		Order("id ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, s.fail("messages", err)
	}
	return msgs, nil
}

func lockMembership(tx *gorm.DB, playerID, chatID int64, m *model.Membership) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("chat_id = ? AND player_id = ?", chatID, playerID).First(m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotMember
	}
	return err
}
