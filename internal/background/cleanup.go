package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenPruner drops registry entries whose tokens have expired.
type TokenPruner interface {
	PruneExpired(now time.Time) int
}

// LimiterPruner drops rate-limit entries that have returned to CLEAR.
type LimiterPruner interface {
	Prune() int
}

// CleanupManager periodically prunes the in-memory token registry and the
// rate limiter so neither grows without bound.
type CleanupManager struct {
	tokens   TokenPruner
	limiter  LimiterPruner
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tokens TokenPruner, limiter LimiterPruner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupManager{
		tokens:   tokens,
		limiter:  limiter,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one cleanup immediately and then one per interval until ctx
// is cancelled or Stop is called. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce()

	for {
		select {
		case <-ticker.C:
			cm.RunOnce()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single pruning pass.
func (cm *CleanupManager) RunOnce() {
	tokens := cm.tokens.PruneExpired(cm.now())
	limits := cm.limiter.Prune()

	if tokens > 0 || limits > 0 {
		cm.logger.Info("cleanup completed",
			slog.Int("tokens_pruned", tokens),
			slog.Int("rate_limit_entries_pruned", limits),
		)
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
