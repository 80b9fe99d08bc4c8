// ABOUTME: Outbound HTTP client for target and reply calls
// ABOUTME: Applies a finite timeout and a circuit breaker; classifies transport vs status failures

package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Result is a completed outbound call: the status code and the fully
// buffered response. A Result exists only when the HTTP exchange
// completed; transport failures return an error instead.
type Result struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
}

// Forwarder issues outbound HTTP calls on behalf of the workers. Every
// call carries the configured finite timeout; a timeout is a transport
// error. A per-host circuit breaker short-circuits calls while that
// host is failing hard - an open breaker surfaces as a transport error,
// which the state machine already retries, so the breaker never changes
// delivery semantics. Keying breakers by host keeps one dead target
// from failing fast deliveries to every other host.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a Forwarder with the given per-call timeout.
func New(timeout time.Duration, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:   &http.Client{Timeout: timeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger.With("component", "forward"),
	}
}

// breakerFor returns the circuit breaker for one host, creating it on
// first use.
func (f *Forwarder) breakerFor(host string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	f.breakers[host] = cb
	return cb
}

// Do issues one outbound call with the stored header map, body, and
// content type. Headers are the persisted JSON form; the routing
// headers were already stripped at submit.
func (f *Forwarder) Do(ctx context.Context, method, url string, headers []byte, body []byte, contentType string) (*Result, error) {
	header, err := DecodeHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("decoding stored headers: %w", err)
	}
	return f.DoWithHeader(ctx, method, url, header, body, contentType)
}

// DoWithHeader issues one outbound call with an already-materialized
// header map.
func (f *Forwarder) DoWithHeader(ctx context.Context, method, url string, header http.Header, body []byte, contentType string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	out, err := f.breakerFor(req.URL.Host).Execute(func() (any, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		return &Result{
			StatusCode:  resp.StatusCode,
			Headers:     resp.Header,
			Body:        respBody,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil
	})
	if err != nil {
		// Transport error, timeout, or open breaker.
		return nil, err
	}

	return out.(*Result), nil
}
