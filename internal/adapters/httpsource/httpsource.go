// Package httpsource holds the small HTTP helpers shared by the target,
// fleet, and directory adapters (spec §4.3): response-envelope and item
// decoding, the bearer Authorization header, and JSON request bodies. The
// listing, lookup, and write calls themselves live in each adapter, over
// internal/httpclient, with wire-layer errors already taxonomy-coded by
// that package.
package httpsource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// ListEnvelope is the minimal shape every list response is expected to
// carry. Adapters decode into this after unmarshaling the raw body, since
// each external API wraps its array with its own envelope.
type ListEnvelope struct {
	Items      []map[string]any `json:"items"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// DecodeEnvelope unmarshals a list response body.
func DecodeEnvelope(body []byte) (ListEnvelope, error) {
	var env ListEnvelope
	if len(body) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("httpsource: decode list envelope: %w", err)
	}
	return env, nil
}

// DecodeItem unmarshals a single-record response body.
func DecodeItem(body []byte) (map[string]any, error) {
	var item map[string]any
	if len(body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("httpsource: decode item: %w", err)
	}
	return item, nil
}

// Bearer builds an Authorization header set for token-based auth, shared by
// Target and Fleet, both of which authenticate with a static bearer token.
func Bearer(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h
}

// NewJSONBody is a convenience wrapper so adapters don't import bytes
// directly just to satisfy httpclient.Request.Body's []byte shape.
func NewJSONBody(v map[string]any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	return b, nil
}
