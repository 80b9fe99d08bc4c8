// ABOUTME: Store interface and data types for relay-gateway persistence
// ABOUTME: Defines Activity, Response structs and the state machine constants

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateActivity is returned when inserting an activity whose id already exists
var ErrDuplicateActivity = errors.New("activity already exists")

// ErrInvalidTransition is returned when a state write would move an
// activity against the transition table
var ErrInvalidTransition = errors.New("invalid state transition")

// Activity states. An activity only ever advances along the transition
// table below; the single backward edge is the explicit requeue
// SENT_FAILED -> SCHEDULED.
const (
	StateCreated     = "CREATED"      // persisted at submit, not yet leased
	StateScheduled   = "SCHEDULED"    // leased by a send worker
	StateSent        = "SENT"         // target call succeeded, response persisted
	StateSentFailed  = "SENT_FAILED"  // target call failed, awaiting requeue
	StateReplyFailed = "REPLY_FAILED" // reply delivery failed, awaiting retry
	StateCompleted   = "COMPLETED"    // response delivered to the reply URL
)

// States lists every legal activity state.
var States = []string{
	StateCreated,
	StateScheduled,
	StateSent,
	StateSentFailed,
	StateReplyFailed,
	StateCompleted,
}

// transitions maps each state to the states it may legally advance to.
var transitions = map[string][]string{
	StateCreated:     {StateScheduled},
	StateScheduled:   {StateSent, StateSentFailed},
	StateSent:        {StateCompleted, StateReplyFailed},
	StateSentFailed:  {StateScheduled},
	StateReplyFailed: {StateCompleted, StateReplyFailed},
	StateCompleted:   {},
}

// ValidState reports whether s is one of the six activity states.
func ValidState(s string) bool {
	for _, st := range States {
		if st == s {
			return true
		}
	}
	return false
}

// TransitionSources returns every state from which an activity may move
// to the given state, including the state itself. State writes use it to
// guard against backward transitions.
func TransitionSources(to string) []string {
	var sources []string
	for _, from := range States {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// CanTransition reports whether an activity may move from one state to
// another. Writing the current state again is always allowed (workers
// re-apply transitions idempotently after a crash).
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Activity is one durable end-to-end forwarding job: submit, target
// call, reply call, completion. Headers holds the request header map as
// a UTF-8 JSON object with string values.
type Activity struct {
	ID          string
	URL         string
	Method      string
	ReplyURL    string
	ReplyMethod string
	State       string
	NodeID      string
	LeasedAt    *time.Time
	CreatedAt   time.Time // whole seconds since epoch
	Headers     []byte
	Payload     []byte
	ContentType string
}

// Response is the persisted result of a successful target call. It is
// written once and never overwritten; every reply attempt replays it.
type Response struct {
	ID          string
	ActivityID  string
	StatusCode  int
	Headers     []byte
	Payload     []byte
	ContentType string
}

// ActivityStatus is the lightweight projection served by the status endpoint.
type ActivityStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Expired pairs a completed activity past retention with its response.
// Response is nil when a prior cleanup crashed between the two deletes.
type Expired struct {
	Activity *Activity
	Response *Response
}

// Store defines the interface for activity and response persistence.
type Store interface {
	// Activities
	InsertActivity(ctx context.Context, a *Activity) error
	GetActivity(ctx context.Context, id string) (*Activity, error)
	GetActivityStatus(ctx context.Context, id string) (*ActivityStatus, error)
	UpdateActivityState(ctx context.Context, id, state, nodeID string) error

	// LeaseNextActivity atomically claims the earliest lease-eligible
	// activity for nodeID and returns it in SCHEDULED, or nil when
	// nothing is eligible.
	LeaseNextActivity(ctx context.Context, nodeID string, leaseTTL time.Duration) (*Activity, error)

	// Responses
	InsertResponse(ctx context.Context, r *Response) error
	InsertResponseMarkSent(ctx context.Context, r *Response) error
	ListResponsesFor(ctx context.Context, activityID string) ([]*Response, error)
	DeleteResponse(ctx context.Context, id string) error
	DeleteActivity(ctx context.Context, id string) error

	// Polling
	SelectEarliestByStates(ctx context.Context, states []string, limit int) ([]*Activity, error)
	SelectStaleSent(ctx context.Context, leaseTTL time.Duration, limit int) ([]*Activity, error)
	SelectCompletedExpired(ctx context.Context, now time.Time, retention time.Duration) ([]*Expired, error)

	// Bulk transitions
	RequeueFailed(ctx context.Context, nodeID string) (int64, error)

	// PurgeActivity removes an activity's responses and then the
	// activity itself, guarded on COMPLETED state.
	PurgeActivity(ctx context.Context, id string) error

	// CountByState returns the number of activities per state.
	CountByState(ctx context.Context) (map[string]int, error)

	// Close releases any resources held by the store
	Close() error
}
