package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/praxis/internal/services"
)

// CleanupManager periodically purges expired reset tokens, verification
// tokens and OAuth states. Audit entries are never purged.
type CleanupManager struct {
	purgers  map[string]services.Purger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager over named purgers
func NewCleanupManager(
	purgers map[string]services.Purger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		purgers:  purgers,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// WithClock overrides the time source
func (cm *CleanupManager) WithClock(now func() time.Time) *CleanupManager {
	cm.now = now
	return cm
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce purges every store once. A failing store does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) map[string]int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now()
	deleted := make(map[string]int64, len(cm.purgers))
	for name, purger := range cm.purgers {
		n, err := purger.DeleteExpired(cleanupCtx, cutoff)
		if err != nil {
			cm.logger.Error("failed to purge expired records",
				slog.String("store", name),
				slog.Any("error", err))
			continue
		}
		deleted[name] = n
		if n > 0 {
			cm.logger.Info("expired records purged",
				slog.String("store", name),
				slog.Int64("rows_deleted", n))
		}
	}
	return deleted
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
