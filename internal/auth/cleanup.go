package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupManager purges expired challenge rows. Expired rows are already
// rejected on lookup, so purging only runs opportunistically when new
// challenges are written, at most once per interval.
type CleanupManager struct {
	repository Repository
	log        *zap.Logger
	clock      Clock
	interval   time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

func NewCleanupManager(repo Repository, log *zap.Logger, clock Clock, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupManager{
		repository: repo,
		log:        log,
		clock:      clock,
		interval:   interval,
	}
}

// MaybePurge returns the number of rows removed, or 0 when the interval has
// not elapsed since the last run.
func (cm *CleanupManager) MaybePurge(ctx context.Context) int64 {
	now := cm.clock.Now()

	cm.mu.Lock()
	if !cm.lastRun.IsZero() && now.Sub(cm.lastRun) < cm.interval {
		cm.mu.Unlock()
		return 0
	}
	cm.lastRun = now
	cm.mu.Unlock()

	purged, err := cm.repository.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		cm.log.Warn("failed to purge expired challenges", zap.Error(err))
		return 0
	}
	if purged > 0 {
		cm.log.Debug("purged expired challenges", zap.Int64("count", purged))
	}
	return purged
}
