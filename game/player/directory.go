package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory reads player identity rows and bumps their version counters.
// Rows are created by the identity subsystem, never here.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a Directory.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Get loads one player.
func (d *Directory) Get(ctx context.Context, id int64) (*model.Player, error) {
	return Load(d.db.WithContext(ctx), id)
}

// Load reads a player inside an existing transaction.
func Load(tx *gorm.DB, id int64) (*model.Player, error) {
	var p model.Player
	if err := tx.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound.WithMsg("player %d not found", id)
		}
		return nil, fmt.Errorf("player: load %d: %w", id, err)
	}
	return &p, nil
}

// GetMany loads the given players keyed by id. Missing ids are absent.
func (d *Directory) GetMany(ctx context.Context, ids []int64) (map[int64]*model.Player, error) {
	out := make(map[int64]*model.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Player
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("player: load many: %w", err)
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// TouchProfile records that the player's profile changed and returns the new version.
func (d *Directory) TouchProfile(ctx context.Context, id int64) (int64, error) {
	return d.bump(ctx, id, "profile_version")
}

// TouchAvatar records that the player's avatar changed and returns the new version.
func (d *Directory) TouchAvatar(ctx context.Context, id int64) (int64, error) {
	return d.bump(ctx, id, "avatar_version")
}

func (d *Directory) bump(ctx context.Context, id int64, column string) (int64, error) {
	var version int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Player
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound.WithMsg("player %d not found", id)
			}
			return err
		}
		if err := tx.Model(&model.Player{}).Where("id = ?", id).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error; err != nil {
			return err
		}
		if err := tx.First(&p, id).Error; err != nil {
			return err
		}
		version = p.ProfileVersion
		if column == "avatar_version" {
			version = p.AvatarVersion
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return 0, err
		}
		return 0, fmt.Errorf("player: bump %s: %w", column, err)
	}
	return version, nil
}
