// Package friend maintains the two-row friendship graph.
//
// Every pair {A,B} is either absent or represented by exactly two rows,
// (A,B) and (B,A). Each transition reads both rows under a row lock, checks
// its precondition, writes both rows and commits before anything is
// published, so a concurrent transition on the same pair always observes the
// committed result and fails its own precondition.
package friend

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service implements the friend graph operations.
type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	audit    *audit.Service
	logger   *zap.Logger
}

// NewService creates a Service. auditSvc may be nil.
func NewService(db *gorm.DB, notifier notify.Notifier, auditSvc *audit.Service, logger *zap.Logger) *Service {
	return &Service{db: db, notifier: notifier, audit: auditSvc, logger: logger}
}

// lockPair reads both rows of the pair with FOR UPDATE, always in
// (owner_id, peer_id) order so two transactions on one pair cannot deadlock.
func lockPair(tx *gorm.DB, a, b int64) (mine, theirs *model.FriendLink, err error) {
	var rows []model.FriendLink
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)", a, b, b, a).
		Order("owner_id, peer_id").
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	for i := range rows {
		if rows[i].OwnerID == a {
			mine = &rows[i]
		} else {
			theirs = &rows[i]
		}
	}
	if (mine == nil) != (theirs == nil) {
		return nil, nil, fmt.Errorf("friend: pair %d/%d has a single row", a, b)
	}
	if mine != nil && mine.Status.Reverse() != theirs.Status {
		return nil, nil, fmt.Errorf("friend: pair %d/%d has statuses %s/%s", a, b, mine.Status, theirs.Status)
	}
	return mine, theirs, nil
}

func pairScope(a, b int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)", a, b, b, a)
	}
}

func deletePair(tx *gorm.DB, a, b int64) error {
	res := tx.Scopes(pairScope(a, b)).Delete(&model.FriendLink{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 2 {
		return fmt.Errorf("friend: deleted %d rows for pair %d/%d", res.RowsAffected, a, b)
	}
	return nil
}

// Send creates a pending request from actor to peer.
func (s *Service) Send(ctx context.Context, actor, peer int64) error {
	if actor == peer {
		return apperr.ErrAlreadyFriendsOrPending.WithMsg("cannot send a friend request to yourself")
	}
	var sender *model.Player
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if sender, err = player.Load(tx, actor); err != nil {
			return err
		}
		if _, err = player.Load(tx, peer); err != nil {
			return err
		}
		mine, _, err := lockPair(tx, actor, peer)
		if err != nil {
			return err
		}
		if mine != nil {
			return apperr.ErrAlreadyFriendsOrPending
		}
		rows := []model.FriendLink{
			{OwnerID: actor, PeerID: peer, Status: model.FriendPendingSent, FriendVersion: 1},
			{OwnerID: peer, PeerID: actor, Status: model.FriendPendingReceived, FriendVersion: 1},
		}
		if err := tx.Create(&rows).Error; err != nil {
			// A concurrent Send for the same pair won the unique index.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrAlreadyFriendsOrPending
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.fail("send", err)
	}

	s.notifier.Publish(ctx, notify.PlayerChannel(peer), notify.EventFriendRequestSent,
		RequestSentEvent{FriendID: actor, Username: sender.Username})
	s.record(ctx, "friend.send", actor, peer, nil)
	return nil
}

// Cancel withdraws a request actor sent to peer.
func (s *Service) Cancel(ctx context.Context, actor, peer int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mine, _, err := lockPair(tx, actor, peer)
		if err != nil {
			return err
		}
		if mine == nil {
			return apperr.ErrRequestNotFound
		}
		if mine.Status != model.FriendPendingSent {
			return apperr.ErrNotSender
		}
		return deletePair(tx, actor, peer)
	})
	if err != nil {
		return s.fail("cancel", err)
	}

	s.notifier.Publish(ctx, notify.PlayerChannel(peer), notify.EventFriendRequestCanceled, PeerEvent{FriendID: actor})
	s.record(ctx, "friend.cancel", actor, peer, nil)
	return nil
}

// checkRecipient enforces the precondition shared by Accept and Reject.
func checkRecipient(mine *model.FriendLink) error {
	switch {
	case mine == nil:
		return apperr.ErrRequestNotFound
	case mine.Status == model.FriendAccepted:
		return apperr.ErrAlreadyAccepted
	case mine.Status == model.FriendPendingSent:
		return apperr.ErrNotRecipient
	}
	return nil
}

// Accept turns a request peer sent to actor into a friendship and bumps
// friend_version on both rows.
func (s *Service) Accept(ctx context.Context, actor, peer int64) error {
	var (
		me      *model.Player
		version int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mine, _, err := lockPair(tx, actor, peer)
		if err != nil {
			return err
		}
		if err := checkRecipient(mine); err != nil {
			return err
		}
		res := tx.Model(&model.FriendLink{}).Scopes(pairScope(actor, peer)).
			Updates(map[string]interface{}{
				"status":         model.FriendAccepted,
				"friend_version": gorm.Expr("friend_version + ?", 1),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 2 {
			return fmt.Errorf("friend: accepted %d rows for pair %d/%d", res.RowsAffected, actor, peer)
		}
		var theirs model.FriendLink
		if err := tx.Where("owner_id = ? AND peer_id = ?", peer, actor).First(&theirs).Error; err != nil {
			return err
		}
		version = theirs.FriendVersion
		me, err = player.Load(tx, actor)
		return err
	})
	if err != nil {
		return s.fail("accept", err)
	}

	s.notifier.Publish(ctx, notify.PlayerChannel(peer), notify.EventFriendRequestAccepted, AcceptedEvent{
		FriendID:       actor,
		Username:       me.Username,
		AvatarVersion:  me.AvatarVersion,
		ProfileVersion: me.ProfileVersion,
		FriendVersion:  version,
	})
	s.record(ctx, "friend.accept", actor, peer, map[string]int64{"friend_version": version})
	return nil
}

// Reject declines a request peer sent to actor.
func (s *Service) Reject(ctx context.Context, actor, peer int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mine, _, err := lockPair(tx, actor, peer)
		if err != nil {
			return err
		}
		if err := checkRecipient(mine); err != nil {
			return err
		}
		return deletePair(tx, actor, peer)
	})
	if err != nil {
		return s.fail("reject", err)
	}

	s.notifier.Publish(ctx, notify.PlayerChannel(peer), notify.EventFriendRequestRejected, PeerEvent{FriendID: actor})
	s.record(ctx, "friend.reject", actor, peer, nil)
	return nil
}

// Unfriend removes an accepted friendship.
func (s *Service) Unfriend(ctx context.Context, actor, peer int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mine, _, err := lockPair(tx, actor, peer)
		if err != nil {
			return err
		}
		if mine == nil || mine.Status != model.FriendAccepted {
			return apperr.ErrNotFriends
		}
		return deletePair(tx, actor, peer)
	})
	if err != nil {
		return s.fail("unfriend", err)
	}

	s.notifier.Publish(ctx, notify.PlayerChannel(peer), notify.EventFriendRemoved, PeerEvent{FriendID: actor})
	s.record(ctx, "friend.unfriend", actor, peer, nil)
	return nil
}

// Status returns the relation between a and b.
func (s *Service) Status(ctx context.Context, a, b int64) (Relation, error) {
	var rows []model.FriendLink
	if err := s.db.WithContext(ctx).Scopes(pairScope(a, b)).Find(&rows).Error; err != nil {
		return Relation{}, fmt.Errorf("friend: status: %w", err)
	}
	var mine, theirs *model.FriendLink
	for i := range rows {
		if rows[i].OwnerID == a {
			mine = &rows[i]
		} else {
			theirs = &rows[i]
		}
	}
	return relationOf(a, mine, theirs), nil
}

// AreFriends reports whether a and b are friends.
func (s *Service) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.FriendLink{}).
		Where("owner_id = ? AND peer_id = ? AND status = ?", a, b, model.FriendAccepted).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("friend: are friends: %w", err)
	}
	return n > 0, nil
}

// List returns owner's links matching filter, newest first.
func (s *Service) List(ctx context.Context, owner int64, filter Filter) ([]model.FriendLink, error) {
	status, ok := filter.status()
	if !ok {
		return nil, apperr.ErrInvalidArgument.WithMsg("unknown friend filter %q", filter)
	}
	var rows []model.FriendLink
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner, status).
		Order("updated_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("friend: list: %w", err)
	}
	return rows, nil
}

// RequireFriends fails with NotFriend unless every id is an accepted friend
// of owner. It runs on the caller's transaction.
func RequireFriends(tx *gorm.DB, owner int64, ids []int64) error {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil
	}
	var peers []int64
	if err := tx.Model(&model.FriendLink{}).
		Where("owner_id = ? AND status = ? AND peer_id IN ?", owner, model.FriendAccepted, ids).
		Pluck("peer_id", &peers).Error; err != nil {
		return fmt.Errorf("friend: require friends: %w", err)
	}
	if missing, _ := lo.Difference(ids, peers); len(missing) > 0 {
		return apperr.ErrNotFriend.WithMsg("players %v are not friends of %d", missing, owner)
	}
	return nil
}

func (s *Service) fail(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	s.logger.Error("friend transition failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("friend: %s: %w", op, err)
}

func (s *Service) record(ctx context.Context, action string, actor, peer int64, payload interface{}) {
	s.audit.LogCtx(ctx, audit.Entry{ActorID: actor, TargetID: &peer, Action: action, Payload: payload})
}
