// Package forward issues the relay's outbound HTTP calls.
//
// It owns the header codec (http.Header to the persisted JSON string
// map and back), the routing header names, and the Forwarder, which
// wraps net/http with a finite per-call timeout and a circuit breaker.
// Callers classify the outcome: an error is a transport failure, a
// Result carries whatever status the remote end produced.
package forward
