// ABOUTME: HTTP API for the relay: submit, status, and health endpoints
// ABOUTME: Submit persists an activity and returns 202; delivery happens in the workers

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/forward"
	"github.com/2389/relay-gateway/internal/metrics"
	"github.com/2389/relay-gateway/internal/store"
)

// errorBody is the JSON shape of every error response. The reference
// UUID also appears in the server log, so a caller report can be
// matched to the log line without exposing internals.
type errorBody struct {
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// sendJSONError writes a JSON error response and logs the reference.
// cause is the underlying error for internal failures; it appears only
// in the log line, next to the reference the caller received.
func (r *Relay) sendJSONError(w http.ResponseWriter, status int, message string, cause error) {
	reference := uuid.New().String()
	if cause != nil {
		r.logger.Error("request failed",
			"status", status,
			"message", message,
			"reference", reference,
			"error", cause)
	} else {
		r.logger.Warn("request rejected",
			"status", status,
			"message", message,
			"reference", reference)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorBody{Message: message, Reference: reference}); err != nil {
		r.logger.Error("failed to encode error response", "error", err)
	}
}

// handleSubmit accepts a forwarding request on /submit with any method.
// The three routing headers are all required; everything else, including
// the body, is carried to the target verbatim.
func (r *Relay) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var missing []string
	targetURL := req.Header.Get(forward.HeaderTargetURL)
	replyURL := req.Header.Get(forward.HeaderReplyURL)
	replyMethod := req.Header.Get(forward.HeaderReplyMethod)
	if targetURL == "" {
		missing = append(missing, forward.HeaderTargetURL)
	}
	if replyURL == "" {
		missing = append(missing, forward.HeaderReplyURL)
	}
	if replyMethod == "" {
		missing = append(missing, forward.HeaderReplyMethod)
	}
	if len(missing) > 0 {
		metrics.SubmissionsRejected.Inc()
		r.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("missing required headers: %s", strings.Join(missing, ", ")), nil)
		return
	}

	body, err := readBody(w, req, r.maxBodyBytes)
	if err != nil {
		metrics.SubmissionsRejected.Inc()
		r.sendJSONError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", r.maxBodyBytes), err)
		return
	}

	// Routing headers are ours; the target never sees them.
	header := req.Header.Clone()
	for _, name := range forward.RoutingHeaders {
		header.Del(name)
	}
	header.Del("Content-Type")

	headers, err := forward.EncodeHeaders(header)
	if err != nil {
		r.sendJSONError(w, http.StatusInternalServerError, "internal server error", err)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		r.sendJSONError(w, http.StatusInternalServerError, "internal server error", err)
		return
	}

	a := &store.Activity{
		ID:          id.String(),
		URL:         targetURL,
		Method:      req.Method,
		ReplyURL:    replyURL,
		ReplyMethod: replyMethod,
		State:       store.StateCreated,
		NodeID:      r.nodeID,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		Headers:     headers,
		Payload:     body,
		ContentType: req.Header.Get("Content-Type"),
	}

	if err := r.store.InsertActivity(req.Context(), a); err != nil {
		r.sendJSONError(w, http.StatusInternalServerError, "internal server error", err)
		return
	}

	metrics.SubmissionsTotal.Inc()
	r.logger.Info("activity accepted",
		"activity", a.ID,
		"method", a.Method,
		"target", targetURL)

	w.Header().Set(forward.HeaderActivity, a.ID)
	w.WriteHeader(http.StatusAccepted)
}

// readBody reads the request body up to limit bytes.
func readBody(w http.ResponseWriter, req *http.Request, limit int64) ([]byte, error) {
	req.Body = http.MaxBytesReader(w, req.Body, limit)
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// handleMessageStatus serves GET /message?id=<activity-id> with the
// activity's current state.
func (r *Relay) handleMessageStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	id := req.URL.Query().Get("id")
	if id == "" {
		r.sendJSONError(w, http.StatusBadRequest, "missing required query parameter: id", nil)
		return
	}

	status, err := r.store.GetActivityStatus(req.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("no activity with id %s", id), nil)
			return
		}
		r.sendJSONError(w, http.StatusInternalServerError, "internal server error", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.logger.Error("failed to encode status response", "error", err)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleNotFound rejects paths outside the API surface.
func (r *Relay) handleNotFound(w http.ResponseWriter, req *http.Request) {
	r.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("no such endpoint: %s", req.URL.Path), nil)
}
