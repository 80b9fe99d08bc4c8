// ABOUTME: Cleanup worker; purges completed activities past retention
// ABOUTME: Also refreshes the per-state activity gauges each tick

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// Cleaner removes COMPLETED activities older than the retention period,
// response first, activity second. Only COMPLETED activities are ever
// purged; anything still moving through the state machine keeps its
// durable record no matter how old it is.
type Cleaner struct {
	store     store.Store
	retention time.Duration
	logger    *slog.Logger
}

// NewCleaner creates a cleanup worker.
func NewCleaner(st store.Store, retention time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		store:     st,
		retention: retention,
		logger:    logger.With("worker", "cleanup"),
	}
}

// Tick purges every expired completed activity and refreshes the
// per-state gauges.
func (c *Cleaner) Tick(ctx context.Context) error {
	expired, err := c.store.SelectCompletedExpired(ctx, time.Now(), c.retention)
	if err != nil {
		return fmt.Errorf("selecting expired activities: %w", err)
	}

	for _, e := range expired {
		if err := c.store.PurgeActivity(ctx, e.Activity.ID); err != nil {
			return fmt.Errorf("purging %s: %w", e.Activity.ID, err)
		}
		metrics.PurgedTotal.Inc()
		c.logger.Info("purged expired activity",
			"activity", e.Activity.ID,
			"age", time.Since(e.Activity.CreatedAt).Round(time.Second))
	}

	counts, err := c.store.CountByState(ctx)
	if err != nil {
		return fmt.Errorf("counting activities: %w", err)
	}
	metrics.SetStateCounts(counts, store.States)

	return nil
}
