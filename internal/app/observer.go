package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// observe logs the current run's counters every interval until ctx ends.
// It only reads snapshots and never touches the store lock.
func (a *App) observe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logProgress("harvest progress", a.Snapshot(), a.Sizes())
		}
	}
}

func (a *App) logProgress(msg string, c harvest.Counters, sets harvest.SetSizes) {
	a.logger.Info(msg,
		zap.Int64("processed", c.Processed),
		zap.Int64("active", c.Active),
		zap.Int64("blacklisted", c.Blacklisted),
		zap.Int64("inactive", c.Inactive),
		zap.Int64("skipped", c.Skipped),
		zap.Int64("failed", c.Failed),
		zap.Int64("deferred", c.Deferred),
		zap.Int("classified_total", sets.Total()),
	)
}
