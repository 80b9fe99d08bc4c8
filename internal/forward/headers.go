// ABOUTME: Header serialization between http.Header and the persisted JSON form
// ABOUTME: Defines the relay routing and correlation header names

package forward

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Routing headers supplied by the submitter and correlation headers
// added by the relay.
const (
	HeaderTargetURL   = "X-Url"
	HeaderReplyURL    = "X-Reply"
	HeaderReplyMethod = "X-ReplyMethod"
	HeaderActivity    = "X-Activity"
	HeaderTaskID      = "X-TaskId"
)

// RoutingHeaders lists the three headers stripped from the forwarded
// request, in the order they are reported when missing.
var RoutingHeaders = []string{HeaderTargetURL, HeaderReplyURL, HeaderReplyMethod}

// EncodeHeaders serializes a header map to the persisted form: a UTF-8
// JSON object whose values are strings. Multi-valued headers are
// comma-joined, which is their RFC 9110 equivalent form.
func EncodeHeaders(h http.Header) ([]byte, error) {
	flat := make(map[string]string, len(h))
	for name, values := range h {
		flat[name] = strings.Join(values, ", ")
	}

	data, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("encoding headers: %w", err)
	}
	return data, nil
}

// DecodeHeaders deserializes the persisted JSON form back into an
// http.Header. Nil or empty input yields an empty header map.
func DecodeHeaders(data []byte) (http.Header, error) {
	h := make(http.Header)
	if len(data) == 0 {
		return h, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}

	for name, value := range flat {
		h.Set(name, value)
	}
	return h, nil
}
