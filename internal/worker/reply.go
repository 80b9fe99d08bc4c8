// ABOUTME: Shared reply delivery used by the send and retry-reply workers
// ABOUTME: Replays a persisted Response to the activity's reply URL and advances the state machine

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// replier delivers a persisted Response to an activity's reply URL. It
// is embedded by Sender (first attempt, inline after the target call)
// and RetryReplier (every later attempt); both deliver identically.
type replier struct {
	store     store.Store
	forwarder *forward.Forwarder
	allowed   map[int]bool
	nodeID    string
	logger    *slog.Logger
}

// deliverReply replays resp to a.ReplyURL using a.ReplyMethod and moves
// the activity to COMPLETED or REPLY_FAILED. The response row itself is
// never modified; a later attempt replays the same bytes.
func (r *replier) deliverReply(ctx context.Context, a *store.Activity, resp *store.Response) error {
	header, err := forward.DecodeHeaders(resp.Headers)
	if err != nil {
		return fmt.Errorf("decoding response headers for activity %s: %w", a.ID, err)
	}
	header.Set(forward.HeaderTaskID, a.ID)

	result, err := r.forwarder.DoWithHeader(ctx, a.ReplyMethod, a.ReplyURL, header, resp.Payload, resp.ContentType)
	if err != nil {
		metrics.RepliesTotal.WithLabelValues(metrics.OutcomeTransport).Inc()
		r.logger.Warn("reply delivery failed",
			"activity", a.ID,
			"reply_url", a.ReplyURL,
			"error", err)
		return r.store.UpdateActivityState(ctx, a.ID, store.StateReplyFailed, r.nodeID)
	}

	if !r.allowed[result.StatusCode] {
		metrics.RepliesTotal.WithLabelValues(metrics.OutcomeStatus).Inc()
		r.logger.Warn("reply rejected by receiver",
			"activity", a.ID,
			"reply_url", a.ReplyURL,
			"status", result.StatusCode,
			"body", truncate(result.Body, 512))
		return r.store.UpdateActivityState(ctx, a.ID, store.StateReplyFailed, r.nodeID)
	}

	metrics.RepliesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	r.logger.Info("activity completed",
		"activity", a.ID,
		"reply_status", result.StatusCode)
	return r.store.UpdateActivityState(ctx, a.ID, store.StateCompleted, r.nodeID)
}

// truncate clips a body for log output.
func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// sinceLease reports the age of an activity's lease, for log output.
func sinceLease(a *store.Activity) time.Duration {
	if a.LeasedAt == nil {
		return 0
	}
	return time.Since(*a.LeasedAt)
}
