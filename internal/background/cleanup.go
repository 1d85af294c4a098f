package background

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper closes sessions nobody will present again
type SessionSweeper interface {
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
	CloseIdle(ctx context.Context, now time.Time, timeout time.Duration) (int64, error)
}

type RecoverySweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type ResetSweeper interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupConfig struct {
	Interval          time.Duration
	InactivityTimeout time.Duration
	// ResetRetention keeps expired password reset rows around for this long
	ResetRetention time.Duration
}

// CleanupManager periodically moves abandoned sessions and recovery requests
// to their terminal state. Requests already close them lazily; the sweep keeps
// the ACTIVE and PENDING sets small.
type CleanupManager struct {
	sessions   SessionSweeper
	recoveries RecoverySweeper
	resets     ResetSweeper
	config     CleanupConfig
	logger     *slog.Logger
	now        func() time.Time
	stopCh     chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions SessionSweeper,
	recoveries RecoverySweeper,
	resets ResetSweeper,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		sessions:   sessions,
		recoveries: recoveries,
		resets:     resets,
		config:     config,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Enabled reports whether a sweep interval is configured
func (cm *CleanupManager) Enabled() bool {
	return cm.config.Interval > 0
}

// Start begins the periodic cleanup task. It returns immediately when the
// manager is disabled.
func (cm *CleanupManager) Start(ctx context.Context) {
	if !cm.Enabled() {
		cm.logger.Info("cleanup manager disabled")
		return
	}

	ticker := time.NewTicker(cm.config.Interval)
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

// RunOnce performs a single sweep. Each step runs even if an earlier one
// failed.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now().UTC()

	// Absolute expiry first so a session past both limits closes as EXPIRED
	cm.step(cleanupCtx, "sessions_expired", func(ctx context.Context) (int64, error) {
		return cm.sessions.CloseExpired(ctx, now)
	})
	cm.step(cleanupCtx, "sessions_idle", func(ctx context.Context) (int64, error) {
		return cm.sessions.CloseIdle(ctx, now, cm.config.InactivityTimeout)
	})
	cm.step(cleanupCtx, "recoveries_expired", func(ctx context.Context) (int64, error) {
		return cm.recoveries.ExpireStale(ctx, now)
	})
	cm.step(cleanupCtx, "password_resets_deleted", func(ctx context.Context) (int64, error) {
		return cm.resets.DeleteExpiredBefore(ctx, now.Add(-cm.config.ResetRetention))
	})
}

func (cm *CleanupManager) step(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	rows, err := fn(ctx)
	if err != nil {
		cm.logger.Error("cleanup step failed", slog.String("step", name), slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup step completed", slog.String("step", name), slog.Int64("rows", rows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
