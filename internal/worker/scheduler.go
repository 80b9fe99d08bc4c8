// ABOUTME: Periodic scheduler that drives the relay workers
// ABOUTME: Runs named jobs on fixed intervals; ticks never overlap themselves

package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/metrics"
)

// Job is one recurring unit of work. Run is invoked once per tick and
// must leave the store in a state any later tick can resume from.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires each job on its own interval. A job's ticks are
// executed synchronously inside its loop, so a job never overlaps
// itself; distinct jobs run concurrently. Tick failures are logged
// with a reference UUID and never propagate: the persisted state
// machine drives recovery on a later tick.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one loop per job. The loops stop when ctx is
// canceled; an in-flight tick finishes first.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runLoop drives one job until the context is canceled.
func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("job loop stopped", "job", job.Name)
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

// tick runs one job execution, containing panics and logging failures.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			reference := uuid.New().String()
			metrics.TickErrors.WithLabelValues(job.Name).Inc()
			s.logger.Error("job tick panicked", "job", job.Name, "reference", reference, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		reference := uuid.New().String()
		metrics.TickErrors.WithLabelValues(job.Name).Inc()
		s.logger.Error("job tick failed", "job", job.Name, "reference", reference, "error", err)
	}
}
