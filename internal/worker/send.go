// ABOUTME: Send worker; leases one activity per tick and calls its target
// ABOUTME: Persists the response and the SENT transition atomically, then replies inline

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// Sender drives one activity per tick through the target call. Leasing
// makes each pick exclusive across workers; a lease left behind by a
// crashed worker expires after leaseTTL and the activity becomes
// eligible again.
type Sender struct {
	replier
	leaseTTL time.Duration
}

// NewSender creates a send worker.
func NewSender(st store.Store, f *forward.Forwarder, nodeID string, allowed map[int]bool, leaseTTL time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		replier: replier{
			store:     st,
			forwarder: f,
			allowed:   allowed,
			nodeID:    nodeID,
			logger:    logger.With("worker", "send"),
		},
		leaseTTL: leaseTTL,
	}
}

// Tick leases the earliest eligible activity and advances it. Returning
// nil with no side effects means there was no work.
func (s *Sender) Tick(ctx context.Context) error {
	a, err := s.store.LeaseNextActivity(ctx, s.nodeID, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("leasing activity: %w", err)
	}
	if a == nil {
		return nil
	}

	// A response already on disk means a previous run made the target
	// call and crashed before finishing. Never call the target twice:
	// re-mark SENT and resume at reply delivery.
	existing, err := s.store.ListResponsesFor(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("checking responses for %s: %w", a.ID, err)
	}
	if len(existing) > 0 {
		s.logger.Info("resuming activity with persisted response", "activity", a.ID)
		if err := s.store.UpdateActivityState(ctx, a.ID, store.StateSent, s.nodeID); err != nil {
			return fmt.Errorf("re-marking %s sent: %w", a.ID, err)
		}
		a.State = store.StateSent
		return s.deliverReply(ctx, a, existing[0])
	}

	result, err := s.forwarder.Do(ctx, a.Method, a.URL, a.Headers, a.Payload, a.ContentType)
	if err != nil {
		metrics.SendsTotal.WithLabelValues(metrics.OutcomeTransport).Inc()
		s.logger.Warn("target call failed",
			"activity", a.ID,
			"url", a.URL,
			"error", err)
		return s.store.UpdateActivityState(ctx, a.ID, store.StateSentFailed, s.nodeID)
	}

	if !s.allowed[result.StatusCode] {
		metrics.SendsTotal.WithLabelValues(metrics.OutcomeStatus).Inc()
		s.logger.Warn("target returned disallowed status",
			"activity", a.ID,
			"url", a.URL,
			"status", result.StatusCode,
			"body", truncate(result.Body, 512))
		return s.store.UpdateActivityState(ctx, a.ID, store.StateSentFailed, s.nodeID)
	}

	headers, err := forward.EncodeHeaders(result.Headers)
	if err != nil {
		return fmt.Errorf("encoding response headers for %s: %w", a.ID, err)
	}

	resp := &store.Response{
		ID:          uuid.New().String(),
		ActivityID:  a.ID,
		StatusCode:  result.StatusCode,
		Headers:     headers,
		Payload:     result.Body,
		ContentType: result.ContentType,
	}

	// One transaction: the response row and the SENT transition land
	// together, so a crash can never leave a response without SENT or
	// SENT without a response.
	if err := s.store.InsertResponseMarkSent(ctx, resp); err != nil {
		return fmt.Errorf("persisting response for %s: %w", a.ID, err)
	}
	metrics.SendsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("target call succeeded",
		"activity", a.ID,
		"status", result.StatusCode)

	a.State = store.StateSent
	return s.deliverReply(ctx, a, resp)
}
