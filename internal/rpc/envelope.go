// Package rpc defines the JSON-RPC 2.0 envelope shapes the bridge validates
// and re-serializes (spec §3, §5 invariant 5), generalized from the
// teacher's MCP-specific request/response types.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is a JSON object with jsonrpc == "2.0" that is either a request,
// a notification, or a response (spec §3's JsonRpcEnvelope).
type Envelope struct {
	raw json.RawMessage

	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// idPresent reports whether the envelope had an "id" key at all — including
// an explicit `"id":null`, which spec §3 says still marks it as a request.
func (e *Envelope) idPresent() bool {
	return e.ID != nil
}

// Kind classifies an envelope per spec §3.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Kind classifies the envelope: Request (has method and an id key, even
// null), Notification (has method, no id key), or Response (has id and
// exactly one of result/error).
func (e *Envelope) Kind() Kind {
	hasMethod := e.Method != ""
	hasID := e.idPresent()
	hasResult := e.Result != nil
	hasError := e.Error != nil

	switch {
	case hasMethod && hasID:
		return KindRequest
	case hasMethod && !hasID:
		return KindNotification
	case hasID && (hasResult != hasError):
		return KindResponse
	default:
		return KindInvalid
	}
}

// Validate checks that e is a well-formed JSON-RPC 2.0 envelope per spec §3
// and §5 invariant 5: jsonrpc must be the literal "2.0", and the envelope
// must match exactly one of Request/Notification/Response.
func (e *Envelope) Validate() error {
	if e.JSONRPC != "2.0" {
		return fmt.Errorf("rpc: jsonrpc field must be \"2.0\", got %q", e.JSONRPC)
	}
	if e.Kind() == KindInvalid {
		return fmt.Errorf("rpc: envelope is neither a valid request, notification, nor response")
	}
	return nil
}

// CompactJSON returns the original envelope bytes re-serialized compactly
// (spec §4.4's "re-serialize to canonical text", §4.5's per-element
// normalization).
func (e *Envelope) CompactJSON() ([]byte, error) {
	if e.raw != nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, e.raw); err == nil {
			return buf.Bytes(), nil
		}
	}
	return json.Marshal(e)
}

// ParseEnvelope parses a single JSON-RPC envelope from raw bytes and
// validates it.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("rpc: invalid JSON: %w", err)
	}
	e.raw = append(json.RawMessage(nil), raw...)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseBody parses an ingress HTTP body (spec §4.5): a single JSON object
// becomes a one-element slice, a non-empty JSON array becomes a slice of its
// elements. Any invalid element rejects the entire body — no partial
// admission. Returns an error for anything that is not a JSON object or a
// non-empty JSON array, or whose top level fails to decode as either.
func ParseBody(body []byte) ([]*Envelope, error) {
	trimmed := trimLeadingSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("rpc: empty body")
	}

	switch trimmed[0] {
	case '{':
		env, err := ParseEnvelope(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Envelope{env}, nil

	case '[':
		var rawElems []json.RawMessage
		if err := json.Unmarshal(trimmed, &rawElems); err != nil {
			return nil, fmt.Errorf("rpc: invalid JSON array: %w", err)
		}
		if len(rawElems) == 0 {
			return nil, fmt.Errorf("rpc: batch must be non-empty")
		}
		envs := make([]*Envelope, len(rawElems))
		for i, raw := range rawElems {
			env, err := ParseEnvelope(raw)
			if err != nil {
				return nil, fmt.Errorf("rpc: batch element %d: %w", i, err)
			}
			envs[i] = env
		}
		return envs, nil

	default:
		return nil, fmt.Errorf("rpc: body must be a JSON object or array")
	}
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
