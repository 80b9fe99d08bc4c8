// ABOUTME: Retry-reply worker; redelivers persisted responses whose reply failed
// ABOUTME: Also recovers activities stranded in SENT by a crash mid-reply

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/store"
)

// RetryReplier retries reply delivery for one activity per tick: the
// earliest REPLY_FAILED first, otherwise a SENT activity whose lease
// went stale (the worker crashed after persisting the response but
// before the reply call finished). In both cases the persisted response
// is replayed unchanged.
type RetryReplier struct {
	replier
	leaseTTL time.Duration
}

// NewRetryReplier creates a retry-reply worker.
func NewRetryReplier(st store.Store, f *forward.Forwarder, nodeID string, allowed map[int]bool, leaseTTL time.Duration, logger *slog.Logger) *RetryReplier {
	return &RetryReplier{
		replier: replier{
			store:     st,
			forwarder: f,
			allowed:   allowed,
			nodeID:    nodeID,
			logger:    logger.With("worker", "retry-reply"),
		},
		leaseTTL: leaseTTL,
	}
}

// Tick picks one activity awaiting reply delivery and retries it.
func (r *RetryReplier) Tick(ctx context.Context) error {
	acts, err := r.store.SelectEarliestByStates(ctx, []string{store.StateReplyFailed}, 1)
	if err != nil {
		return fmt.Errorf("selecting failed replies: %w", err)
	}
	if len(acts) == 0 {
		acts, err = r.store.SelectStaleSent(ctx, r.leaseTTL, 1)
		if err != nil {
			return fmt.Errorf("selecting stale sent activities: %w", err)
		}
		if len(acts) == 0 {
			return nil
		}
		r.logger.Info("recovering activity stranded in sent",
			"activity", acts[0].ID,
			"lease_age", sinceLease(acts[0]))
	}
	a := acts[0]

	responses, err := r.store.ListResponsesFor(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("loading responses for %s: %w", a.ID, err)
	}
	if len(responses) == 0 {
		// SENT and REPLY_FAILED both require a persisted response.
		reference := uuid.New().String()
		r.logger.Error("activity has no persisted response",
			"activity", a.ID,
			"state", a.State,
			"reference", reference)
		return nil
	}

	return r.deliverReply(ctx, a, responses[0])
}
