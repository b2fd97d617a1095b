// Package group manages chat groups, their rosters and admin sets, and the
// per-member version counters clients use to invalidate cached state.
//
// Mutations lock the chat row, validate, write every affected row in the same
// transaction and publish only after commit. Counter bumps are SQL-side
// increments so concurrent mutations never lose one.
package group

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/game/friend"
	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/plugin/hook"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Limits bounds user-supplied sizes.
type Limits struct {
	MaxMembers    int
	MaxNameLen    int
	MaxMessageLen int
}

// DefaultLimits matches the config defaults.
var DefaultLimits = Limits{MaxMembers: 100, MaxNameLen: 64, MaxMessageLen: 2000}

// Metadata is the display metadata supplied at creation.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Patch holds the metadata fields to change. Nil fields are left alone.
type Patch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Service implements group membership operations.
type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	audit    *audit.Service
	limits   Limits
	hooks    *hook.HookCenter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. auditSvc may be nil.
func NewService(db *gorm.DB, notifier notify.Notifier, auditSvc *audit.Service, limits Limits, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		audit:    auditSvc,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHooks installs the filters run before a message is stored.
func (s *Service) SetHooks(hc *hook.HookCenter) { s.hooks = hc }

func lockChat(tx *gorm.DB, chatID int64) (*model.ChatGroup, error) {
	var chat model.ChatGroup
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound.WithMsg("chat %d not found", chatID)
		}
		return nil, err
	}
	return &chat, nil
}

func isAdmin(chat *model.ChatGroup, id int64) bool  { return lo.Contains(chat.AdminIDs, id) }
func isMember(chat *model.ChatGroup, id int64) bool { return lo.Contains(chat.MemberIDs, id) }

// bumpMemberships increments column on every Membership of the chat except
// those owned by the excluded players.
func bumpMemberships(tx *gorm.DB, chatID int64, column string, except ...int64) error {
	q := tx.Model(&model.Membership{}).Where("chat_id = ?", chatID)
	if len(except) > 0 {
		q = q.Where("player_id NOT IN ?", except)
	}
	return q.UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
}

func saveRoster(tx *gorm.DB, chat *model.ChatGroup) error {
	return tx.Model(&model.ChatGroup{}).Where("id = ?", chat.ID).Updates(map[string]interface{}{
		"member_ids": chat.MemberIDs,
		"admin_ids":  chat.AdminIDs,
		"updated_at": time.Now(),
	}).Error
}

func newMembership(playerID, chatID int64) model.Membership {
	return model.Membership{
		PlayerID:       playerID,
		ChatID:         chatID,
		GroupVersion:   1,
		AvatarVersion:  1,
		MessageVersion: 1,
	}
}

func (s *Service) checkName(name string) error {
	if utf8.RuneCountInString(name) > s.limits.MaxNameLen {
		return apperr.ErrInvalidArgument.WithMsg("group name longer than %d characters", s.limits.MaxNameLen)
	}
	return nil
}

// Create makes a new chat with creator as sole admin. Every other member must
// be a friend of the creator.
func (s *Service) Create(ctx context.Context, creator int64, memberIDs []int64, meta Metadata) (*model.ChatGroup, error) {
	ids := lo.Without(lo.Uniq(memberIDs), creator)
	if err := s.checkName(meta.Name); err != nil {
		return nil, err
	}
	if len(ids)+1 > s.limits.MaxMembers {
		return nil, apperr.ErrInvalidArgument.WithMsg("a group holds at most %d members", s.limits.MaxMembers)
	}

	chat := &model.ChatGroup{
		Name:          meta.Name,
		Description:   meta.Description,
		AvatarVersion: 1,
		MemberIDs:     datatypes.JSONSlice[int64](append([]int64{creator}, ids...)),
		AdminIDs:      datatypes.JSONSlice[int64]{creator},
		CreatorID:     creator,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := player.Load(tx, creator); err != nil {
			return err
		}
		if err := friend.RequireFriends(tx, creator, ids); err != nil {
			return err
		}
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		rows := lo.Map(chat.MemberIDs, func(id int64, _ int) model.Membership {
			return newMembership(id, chat.ID)
		})
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, s.fail("create", err)
	}

	evt := createdEvent(chat)
	channel := notify.ChatChannel(chat.ID)
	for _, id := range ids {
		s.notifier.Publish(ctx, notify.PlayerChannel(id), notify.EventGroupCreated, evt)
	}
	for _, id := range chat.MemberIDs {
		s.notifier.Attach(ctx, id, channel)
	}
	s.record(ctx, "group.create", creator, nil, chat.ID, evt)
	return chat, nil
}

// AddMember adds newID to the chat. Only admins may add.
func (s *Service) AddMember(ctx context.Context, actor, chatID, newID int64) (*model.ChatGroup, error) {
	var chat *model.ChatGroup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if chat, err = lockChat(tx, chatID); err != nil {
			return err
		}
		if !isAdmin(chat, actor) {
			return apperr.ErrNotAdmin
		}
		if isMember(chat, newID) {
			return apperr.ErrAlreadyMember
		}
		if _, err := player.Load(tx, newID); err != nil {
			return err
		}
		if len(chat.MemberIDs) >= s.limits.MaxMembers {
			return apperr.ErrInvalidArgument.WithMsg("a group holds at most %d members", s.limits.MaxMembers)
		}
		if err := bumpMemberships(tx, chatID, "group_version"); err != nil {
			return err
		}
		chat.MemberIDs = append(chat.MemberIDs, newID)
		if err := saveRoster(tx, chat); err != nil {
			return err
		}
		m := newMembership(newID, chatID)
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, s.fail("add_member", err)
	}

	channel := notify.ChatChannel(chatID)
	s.notifier.Publish(ctx, channel, notify.EventGroupMemberAdded, MemberEvent{GroupID: chatID, UserID: newID})
	s.notifier.Publish(ctx, notify.PlayerChannel(newID), notify.EventGroupCreated, createdEvent(chat))
	s.notifier.Attach(ctx, newID, channel)
	s.record(ctx, "group.add_member", actor, &newID, chatID, nil)
	return chat, nil
}

// RemoveMember removes target from the chat. Admins may remove anyone; any
// member may remove themself. The chat is deleted with its last member.
// deleted reports whether that happened.
func (s *Service) RemoveMember(ctx context.Context, actor, chatID, target int64) (deleted bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if actor != target && !isAdmin(chat, actor) {
			return apperr.ErrNotAdmin
		}
		if !isMember(chat, target) {
			return apperr.ErrNotMember
		}
		if err := tx.Where("chat_id = ? AND player_id = ?", chatID, target).
			Delete(&model.Membership{}).Error; err != nil {
			return err
		}
		chat.MemberIDs = lo.Without(chat.MemberIDs, target)
		chat.AdminIDs = lo.Without(chat.AdminIDs, target)

		if len(chat.MemberIDs) == 0 {
			deleted = true
			if err := tx.Where("chat_id = ?", chatID).Delete(&model.ChatMessage{}).Error; err != nil {
				return err
			}
			return tx.Delete(&model.ChatGroup{}, chatID).Error
		}
		if err := saveRoster(tx, chat); err != nil {
			return err
		}
		return bumpMemberships(tx, chatID, "group_version")
	})
	if err != nil {
		return false, s.fail("remove_member", err)
	}

	// Detach first: the target hears about the removal once, on their
	// personal channel, and nothing from the chat after it.
	channel := notify.ChatChannel(chatID)
	s.notifier.Detach(ctx, target, channel)
	if !deleted {
		event := notify.EventGroupMemberRemoved
		if actor == target {
			event = notify.EventGroupMemberLeft
		}
		evt := MemberEvent{GroupID: chatID, UserID: target}
		s.notifier.Publish(ctx, channel, event, evt)
		s.notifier.Publish(ctx, notify.PlayerChannel(target), event, evt)
	}
	s.record(ctx, "group.remove_member", actor, &target, chatID, map[string]bool{"deleted": deleted})
	return deleted, nil
}

// SetAdmin grants or revokes admin rights. A no-op change still bumps every
// member's group_version and is published.
func (s *Service) SetAdmin(ctx context.Context, actor, chatID, target int64, admin bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !isAdmin(chat, actor) {
			return apperr.ErrNotAdmin
		}
		if !isMember(chat, target) {
			return apperr.ErrNotMember
		}
		if admin {
			chat.AdminIDs = lo.Uniq(append(chat.AdminIDs, target))
		} else {
			chat.AdminIDs = lo.Without(chat.AdminIDs, target)
		}
		if err := saveRoster(tx, chat); err != nil {
			return err
		}
		return bumpMemberships(tx, chatID, "group_version")
	})
	if err != nil {
		return s.fail("set_admin", err)
	}

	s.notifier.Publish(ctx, notify.ChatChannel(chatID), notify.EventGroupAdminChanged,
		AdminEvent{GroupID: chatID, UserID: target, IsAdmin: admin})
	s.record(ctx, "group.set_admin", actor, &target, chatID, map[string]bool{"is_admin": admin})
	return nil
}

// UpdateMetadata applies the provided fields. The version bump and the
// group_updated event happen even when nothing changed.
func (s *Service) UpdateMetadata(ctx context.Context, actor, chatID int64, patch Patch) (*model.ChatGroup, error) {
	if patch.Name != nil {
		if err := s.checkName(*patch.Name); err != nil {
			return nil, err
		}
	}
	var chat *model.ChatGroup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if chat, err = lockChat(tx, chatID); err != nil {
			return err
		}
		if !isAdmin(chat, actor) {
			return apperr.ErrNotAdmin
		}
		updates := map[string]interface{}{"updated_at": time.Now()}
		if patch.Name != nil {
			updates["name"] = *patch.Name
			chat.Name = *patch.Name
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
			chat.Description = *patch.Description
		}
		if err := tx.Model(&model.ChatGroup{}).Where("id = ?", chatID).Updates(updates).Error; err != nil {
			return err
		}
		return bumpMemberships(tx, chatID, "group_version")
	})
	if err != nil {
		return nil, s.fail("update_metadata", err)
	}

	evt := map[string]interface{}{"group_id": chatID}
	if patch.Name != nil {
		evt["group_name"] = *patch.Name
	}
	if patch.Description != nil {
		evt["description"] = *patch.Description
	}
	s.notifier.Publish(ctx, notify.ChatChannel(chatID), notify.EventGroupUpdated, evt)
	s.record(ctx, "group.update_metadata", actor, nil, chatID, evt)
	return chat, nil
}

// UpdateAvatar stores a new opaque avatar reference and bumps avatar_version
// on the chat and on every Membership.
func (s *Service) UpdateAvatar(ctx context.Context, actor, chatID int64, avatarRef string) (int64, error) {
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !isAdmin(chat, actor) {
			return apperr.ErrNotAdmin
		}
		if err := tx.Model(&model.ChatGroup{}).Where("id = ?", chatID).Updates(map[string]interface{}{
			"avatar_ref":     avatarRef,
			"avatar_version": gorm.Expr("avatar_version + ?", 1),
		}).Error; err != nil {
			return err
		}
		if err := bumpMemberships(tx, chatID, "avatar_version"); err != nil {
			return err
		}
		if err := tx.First(chat, chatID).Error; err != nil {
			return err
		}
		version = chat.AvatarVersion
		return nil
	})
	if err != nil {
		return 0, s.fail("update_avatar", err)
	}

	s.notifier.Publish(ctx, notify.ChatChannel(chatID), notify.EventGroupAvatarUpdated,
		AvatarEvent{GroupID: chatID, AvatarVersion: version})
	s.record(ctx, "group.update_avatar", actor, nil, chatID, map[string]int64{"avatar_version": version})
	return version, nil
}

func (s *Service) fail(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	s.logger.Error("group operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("group: %s: %w", op, err)
}

func (s *Service) record(ctx context.Context, action string, actor int64, target *int64, chatID int64, payload interface{}) {
	s.audit.LogCtx(ctx, audit.Entry{ActorID: actor, TargetID: target, ChatID: &chatID, Action: action, Payload: payload})
}
