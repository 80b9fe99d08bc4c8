package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "relay.db")},
		Node:     config.NodeConfig{ID: "node-test"},
		Relay: config.RelayConfig{
			AllowedResponseCodes: []int{200, 201, 202},
			RetentionPeriod:      24 * time.Hour,
			OutboundTimeout:      2 * time.Second,
			MaxBodyBytes:         1024,
		},
		Workers: config.WorkersConfig{
			SendInterval:       500 * time.Millisecond,
			RequeueInterval:    5 * time.Second,
			RetryReplyInterval: 5 * time.Second,
			CleanupInterval:    10 * time.Second,
			LeaseTTL:           30 * time.Second,
		},
	}
}

func setupTestRelay(t *testing.T) *Relay {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := New(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { r.store.Close() })

	return r
}

func submitRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/submit", bytes.NewReader([]byte(body)))
	req.Header.Set(forward.HeaderTargetURL, "http://target.test/work")
	req.Header.Set(forward.HeaderReplyURL, "http://reply.test/cb")
	req.Header.Set(forward.HeaderReplyMethod, http.MethodPost)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleSubmit_Accepted(t *testing.T) {
	r := setupTestRelay(t)

	req := submitRequest(http.MethodPost, `{"n":1}`)
	req.Header.Set("X-Custom", "kept")

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	id := rec.Header().Get(forward.HeaderActivity)
	require.NotEmpty(t, id, "202 must carry the activity id")

	a, err := r.store.GetActivity(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StateCreated, a.State)
	assert.Equal(t, http.MethodPost, a.Method)
	assert.Equal(t, "http://target.test/work", a.URL)
	assert.Equal(t, "http://reply.test/cb", a.ReplyURL)
	assert.Equal(t, http.MethodPost, a.ReplyMethod)
	assert.Equal(t, "node-test", a.NodeID)
	assert.Equal(t, []byte(`{"n":1}`), a.Payload)
	assert.Equal(t, "application/json", a.ContentType)

	header, err := forward.DecodeHeaders(a.Headers)
	require.NoError(t, err)
	assert.Equal(t, "kept", header.Get("X-Custom"))
	assert.Empty(t, header.Get(forward.HeaderTargetURL), "routing headers are stripped")
	assert.Empty(t, header.Get(forward.HeaderReplyURL))
	assert.Empty(t, header.Get(forward.HeaderReplyMethod))
}

func TestHandleSubmit_CustomReplyMethod(t *testing.T) {
	r := setupTestRelay(t)

	req := submitRequest(http.MethodGet, "")
	req.Header.Set(forward.HeaderReplyMethod, http.MethodPut)

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	a, err := r.store.GetActivity(context.Background(), rec.Header().Get(forward.HeaderActivity))
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, a.Method)
	assert.Equal(t, http.MethodPut, a.ReplyMethod)
}

func TestHandleSubmit_MissingHeaders(t *testing.T) {
	r := setupTestRelay(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Message   string `json:"message"`
		Reference string `json:"reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing required headers: X-Url, X-Reply, X-ReplyMethod", body.Message)
	assert.NotEmpty(t, body.Reference)
}

func TestHandleSubmit_MissingReplyHeaders(t *testing.T) {
	r := setupTestRelay(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set(forward.HeaderTargetURL, "http://target.test")
	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing required headers: X-Reply, X-ReplyMethod")
}

func TestHandleSubmit_MissingReplyMethod(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader([]byte(`{"n":1}`)))
	req.Header.Set(forward.HeaderTargetURL, "http://target.test/work")
	req.Header.Set(forward.HeaderReplyURL, "http://reply.test/cb")
	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Message   string `json:"message"`
		Reference string `json:"reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing required headers: X-ReplyMethod", body.Message)
	assert.NotEmpty(t, body.Reference)

	// A rejected submission leaves nothing behind.
	counts, err := r.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHandleSubmit_BodyTooLarge(t *testing.T) {
	r := setupTestRelay(t)

	req := submitRequest(http.MethodPost, strings.Repeat("x", 2048))
	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleSubmit_InternalErrorLogsCause(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r, err := New(testConfig(t), logger)
	require.NoError(t, err)
	require.NoError(t, r.store.Close())

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, submitRequest(http.MethodPost, `{"n":1}`))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Message   string `json:"message"`
		Reference string `json:"reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Message)

	// The reference the caller got and the underlying error share a log line.
	assert.Contains(t, buf.String(), body.Reference)
	assert.Contains(t, buf.String(), "error=")
}

func TestUnknownPathNotFound(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodPost, "/anything/goes", bytes.NewReader([]byte(`{"n":1}`)))
	req.Header.Set(forward.HeaderTargetURL, "http://target.test/work")
	req.Header.Set(forward.HeaderReplyURL, "http://reply.test/cb")
	req.Header.Set(forward.HeaderReplyMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no such endpoint")

	counts, err := r.store.CountByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHandleMessageStatus(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	require.NoError(t, r.store.InsertActivity(ctx, &store.Activity{
		ID:          "act-1",
		URL:         "http://target.test",
		Method:      http.MethodPost,
		ReplyURL:    "http://reply.test",
		ReplyMethod: http.MethodPost,
		State:       store.StateCreated,
		NodeID:      "node-test",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		Headers:     []byte(`{}`),
	}))

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/message?id=act-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status store.ActivityStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "act-1", status.ID)
	assert.Equal(t, store.StateCreated, status.State)
}

func TestHandleMessageStatus_NotFound(t *testing.T) {
	r := setupTestRelay(t)

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/message?id=nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "reference")
}

func TestHandleMessageStatus_MissingID(t *testing.T) {
	r := setupTestRelay(t)

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/message", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	r := setupTestRelay(t)

	rec := httptest.NewRecorder()
	r.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
