package group

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Details is a chat as seen by one member.
type Details struct {
	Chat       *model.ChatGroup  `json:"chat"`
	Membership *model.Membership `json:"membership"`
}

// SetMute changes the caller's own mute flag. With durationHours set the mute
// lifts itself after that many hours; without it the mute is indefinite.
// Unmuting always clears the expiry.
func (s *Service) SetMute(ctx context.Context, playerID, chatID int64, mute bool, durationHours *int) (*model.Membership, error) {
	if durationHours != nil && *durationHours <= 0 {
		return nil, apperr.ErrInvalidArgument.WithMsg("mute duration must be positive")
	}
	var m model.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := chatExists(tx, chatID); err != nil {
			return err
		}
		if err := lockMembership(tx, playerID, chatID, &m); err != nil {
			return err
		}
		var until *time.Time
		if mute && durationHours != nil {
			t := s.now().UTC().Add(time.Duration(*durationHours) * time.Hour)
			until = &t
		}
		m.Muted = mute
		m.MuteUntil = until
		return tx.Model(&model.Membership{}).
			Where("chat_id = ? AND player_id = ?", chatID, playerID).
			Updates(map[string]interface{}{"muted": mute, "mute_until": until}).Error
	})
	if err != nil {
		return nil, s.fail("set_mute", err)
	}
	s.audit.LogCtx(ctx, audit.Entry{
		ActorID: playerID,
		ChatID:  &chatID,
		Action:  "group.set_mute",
		Payload: map[string]interface{}{"muted": mute, "mute_until": m.MuteUntil},
	})
	return &m, nil
}

// ExpireMutes clears every timed mute whose expiry is at or before now and
// returns how many were cleared.
func (s *Service) ExpireMutes(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("muted = ? AND mute_until IS NOT NULL AND mute_until <= ?", true, now.UTC()).
		Updates(map[string]interface{}{"muted": false, "mute_until": nil})
	if res.Error != nil {
		return 0, s.fail("expire_mutes", res.Error)
	}
	return res.RowsAffected, nil
}

// Details returns the chat and the viewer's Membership.
func (s *Service) Details(ctx context.Context, viewer, chatID int64) (*Details, error) {
	db := s.db.WithContext(ctx)
	var chat model.ChatGroup
	if err := db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound.WithMsg("chat %d not found", chatID)
		}
		return nil, s.fail("details", err)
	}
	var m model.Membership
	if err := db.Where("chat_id = ? AND player_id = ?", chatID, viewer).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotMember
		}
		return nil, s.fail("details", err)
	}
	return &Details{Chat: &chat, Membership: &m}, nil
}

// ListForPlayer returns every chat the player belongs to, most recently
// updated first.
func (s *Service) ListForPlayer(ctx context.Context, playerID int64) ([]Details, error) {
	db := s.db.WithContext(ctx)
	var rows []model.Membership
	if err := db.Where("player_id = ?", playerID).Find(&rows).Error; err != nil {
		return nil, s.fail("list", err)
	}
	if len(rows) == 0 {
		return []Details{}, nil
	}
	ids := lo.Map(rows, func(m model.Membership, _ int) int64 { return m.ChatID })
	var chats []model.ChatGroup
	if err := db.Where("id IN ?", ids).Order("updated_at DESC, id DESC").Find(&chats).Error; err != nil {
		return nil, s.fail("list", err)
	}
	byChat := lo.KeyBy(rows, func(m model.Membership) int64 { return m.ChatID })
	out := make([]Details, 0, len(chats))
	for i := range chats {
		m := byChat[chats[i].ID]
		out = append(out, Details{Chat: &chats[i], Membership: &m})
	}
	return out, nil
}

// ChatIDsFor returns the ids of every chat the player belongs to.
func (s *Service) ChatIDsFor(ctx context.Context, playerID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("player_id = ?", playerID).Order("chat_id").Pluck("chat_id", &ids).Error; err != nil {
		return nil, s.fail("chat_ids", err)
	}
	return ids, nil
}

func chatExists(tx *gorm.DB, chatID int64) error {
	var n int64
	if err := tx.Model(&model.ChatGroup{}).Where("id = ?", chatID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound.WithMsg("chat %d not found", chatID)
	}
	return nil
}
