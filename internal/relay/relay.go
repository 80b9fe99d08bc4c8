// ABOUTME: Relay orchestrator that coordinates the HTTP server and background workers
// ABOUTME: Manages store, forwarder, and scheduler lifecycle with graceful shutdown

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/worker"
)

// Relay orchestrates the relay-gateway server components: the HTTP
// submit/status API and the four background workers that drive every
// accepted activity to completion.
type Relay struct {
	config       *config.Config
	store        store.Store
	forwarder    *forward.Forwarder
	scheduler    *worker.Scheduler
	httpServer   *http.Server
	logger       *slog.Logger
	nodeID       string
	maxBodyBytes int64

	workersDone context.CancelFunc
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Relay instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	f := forward.New(cfg.Relay.OutboundTimeout, logger)
	allowed := cfg.AllowedCodeSet()
	nodeID := cfg.Node.ID

	r := &Relay{
		config:       cfg,
		store:        s,
		forwarder:    f,
		logger:       logger.With("component", "relay"),
		nodeID:       nodeID,
		maxBodyBytes: cfg.Relay.MaxBodyBytes,
	}

	sched := worker.NewScheduler(logger)
	sched.Add(worker.Job{
		Name:     "send",
		Interval: cfg.Workers.SendInterval,
		Run:      worker.NewSender(s, f, nodeID, allowed, cfg.Workers.LeaseTTL, logger).Tick,
	})
	sched.Add(worker.Job{
		Name:     "requeue",
		Interval: cfg.Workers.RequeueInterval,
		Run:      worker.NewRequeuer(s, nodeID, logger).Tick,
	})
	sched.Add(worker.Job{
		Name:     "retry-reply",
		Interval: cfg.Workers.RetryReplyInterval,
		Run:      worker.NewRetryReplier(s, f, nodeID, allowed, cfg.Workers.LeaseTTL, logger).Tick,
	})
	sched.Add(worker.Job{
		Name:     "cleanup",
		Interval: cfg.Workers.CleanupInterval,
		Run:      worker.NewCleaner(s, cfg.Relay.RetentionPeriod, logger).Tick,
	})
	r.scheduler = sched

	mux := http.NewServeMux()
	mux.HandleFunc("/submit", r.handleSubmit)
	mux.HandleFunc("/message", r.handleMessageStatus)
	mux.HandleFunc("/health", r.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}
	mux.HandleFunc("/", r.handleNotFound)

	r.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r, nil
}

// Run starts the HTTP server and the workers, blocking until the
// context is canceled or the server fails. Returns nil on graceful
// shutdown.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	r.workersDone = cancelWorkers
	r.scheduler.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "node", r.nodeID)
		if err := r.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		r.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := r.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (r *Relay) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(ctx)
}

// Shutdown stops the HTTP server, waits for in-flight worker ticks to
// finish, and closes the store. Activities mid-delivery simply resume
// from their persisted state on the next start.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	var errs []error
	if err := r.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if r.workersDone != nil {
		r.workersDone()
		r.scheduler.Wait()
	}

	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
