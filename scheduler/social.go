package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errPanicked = errors.New("task panicked")

// Task names registered by RegisterSocialTasks.
const (
	TaskMuteExpiry      = "mute_expiry"
	TaskPresenceRefresh = "presence_refresh"
)

// MuteExpirer clears timed mutes that have run out.
type MuteExpirer interface {
	ExpireMutes(ctx context.Context, now time.Time) (int64, error)
}

// PresenceRefresher extends the TTL of the local connections' presence keys.
type PresenceRefresher interface {
	RefreshPresence(ctx context.Context)
}

// RegisterSocialTasks installs the periodic maintenance of the social
// services. A zero interval skips that task.
func RegisterSocialTasks(s *Scheduler, mutes MuteExpirer, muteEvery time.Duration,
	presence PresenceRefresher, presenceEvery time.Duration, logger *zap.Logger) {
	if mutes != nil && muteEvery > 0 {
		s.AddTicker(TaskMuteExpiry, muteEvery, func(ctx context.Context) error {
			n, err := mutes.ExpireMutes(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("mutes expired", zap.Int64("count", n))
			}
			return nil
		})
	}
	if presence != nil && presenceEvery > 0 {
		s.AddTicker(TaskPresenceRefresh, presenceEvery, func(ctx context.Context) error {
			presence.RefreshPresence(ctx)
			return nil
		})
	}
}
