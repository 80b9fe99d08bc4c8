// ABOUTME: Requeue worker; moves SENT_FAILED activities back to SCHEDULED
// ABOUTME: Bulk transition per tick so failed target calls get retried

package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// Requeuer returns every SENT_FAILED activity to the send queue. The
// transition clears the lease, so a send worker may pick the activity
// up immediately on its next tick.
type Requeuer struct {
	store  store.Store
	nodeID string
	logger *slog.Logger
}

// NewRequeuer creates a requeue worker.
func NewRequeuer(st store.Store, nodeID string, logger *slog.Logger) *Requeuer {
	return &Requeuer{
		store:  st,
		nodeID: nodeID,
		logger: logger.With("worker", "requeue"),
	}
}

// Tick requeues all failed sends in one statement.
func (r *Requeuer) Tick(ctx context.Context) error {
	n, err := r.store.RequeueFailed(ctx, r.nodeID)
	if err != nil {
		return fmt.Errorf("requeuing failed activities: %w", err)
	}
	if n > 0 {
		metrics.RequeuedTotal.Add(float64(n))
		r.logger.Info("requeued failed activities", "count", n)
	}
	return nil
}
