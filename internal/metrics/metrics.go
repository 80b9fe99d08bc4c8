// ABOUTME: Prometheus collectors for the relay's submit path and workers
// ABOUTME: Exposes counters per outcome and a gauge of activities per state

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submit path
	SubmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_submissions_total",
			Help: "Total number of accepted submissions",
		},
	)

	SubmissionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_submissions_rejected_total",
			Help: "Total number of submissions rejected with 400",
		},
	)

	// Worker outcomes
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "Total number of target calls by outcome",
		},
		[]string{"outcome"},
	)

	RepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_replies_total",
			Help: "Total number of reply deliveries by outcome",
		},
		[]string{"outcome"},
	)

	RequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_requeued_total",
			Help: "Total number of failed activities moved back to SCHEDULED",
		},
	)

	PurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_purged_total",
			Help: "Total number of completed activities removed by cleanup",
		},
	)

	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tick_errors_total",
			Help: "Total number of failed worker ticks by job",
		},
		[]string{"job"},
	)

	// State machine population
	ActivitiesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_activities",
			Help: "Number of activities by state",
		},
		[]string{"state"},
	)
)

// Outcome label values for SendsTotal and RepliesTotal.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport_error"
	OutcomeStatus    = "bad_status"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmissionsRejected)
	prometheus.MustRegister(SendsTotal)
	prometheus.MustRegister(RepliesTotal)
	prometheus.MustRegister(RequeuedTotal)
	prometheus.MustRegister(PurgedTotal)
	prometheus.MustRegister(TickErrors)
	prometheus.MustRegister(ActivitiesByState)
}

// SetStateCounts refreshes the per-state gauge. States absent from the
// map are reset to zero so drained states do not linger.
func SetStateCounts(counts map[string]int, states []string) {
	for _, state := range states {
		ActivitiesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
