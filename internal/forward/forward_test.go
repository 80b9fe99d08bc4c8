package forward

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestForwarder_Do(t *testing.T) {
	var gotMethod, gotContentType, gotCustom string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(5*time.Second, testLogger())

	headers, err := EncodeHeaders(http.Header{"X-Custom": {"yes"}})
	require.NoError(t, err)

	result, err := f.Do(context.Background(), http.MethodPut, srv.URL, headers, []byte(`{"n":1}`), "application/json")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "yes", gotCustom)
	assert.Equal(t, []byte(`{"n":1}`), gotBody)

	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, []byte(`{"ok":true}`), result.Body)
	assert.Equal(t, "application/json", result.ContentType)
}

func TestForwarder_Do_BadStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(5*time.Second, testLogger())

	result, err := f.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, "")
	require.NoError(t, err, "a completed exchange is not a transport error")
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestForwarder_Do_TransportError(t *testing.T) {
	f := New(time.Second, testLogger())

	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := f.Do(context.Background(), http.MethodGet, url, nil, nil, "")
	assert.Error(t, err)
}

func TestForwarder_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := New(50*time.Millisecond, testLogger())

	_, err := f.Do(context.Background(), http.MethodGet, srv.URL, nil, nil, "")
	assert.Error(t, err, "timeout must surface as a transport error")
}

func TestForwarder_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := New(time.Second, testLogger())

	for i := 0; i < 5; i++ {
		_, err := f.Do(context.Background(), http.MethodGet, url, nil, nil, "")
		require.Error(t, err)
	}

	// Breaker is now open; the call fails fast without dialing.
	start := time.Now()
	_, err := f.Do(context.Background(), http.MethodGet, url, nil, nil, "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestForwarder_BreakerIsPerHost(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer live.Close()

	f := New(time.Second, testLogger())

	// Trip the breaker for the dead host.
	for i := 0; i < 6; i++ {
		_, err := f.Do(context.Background(), http.MethodGet, deadURL, nil, nil, "")
		require.Error(t, err)
	}

	// The live host has its own breaker and is unaffected.
	result, err := f.Do(context.Background(), http.MethodGet, live.URL, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}
