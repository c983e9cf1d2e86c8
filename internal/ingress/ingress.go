// Package ingress implements the Ingress Handler (spec §4.5): validates
// inbound POST bodies as JSON-RPC envelopes or batches, normalizes each
// element to a newline-terminated frame, and hands each frame to the
// Process Supervisor's Write.
package ingress

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/scrypster/bridged/internal/rpc"
)

// Writer is the subset of the Process Supervisor the Ingress Handler needs.
type Writer interface {
	Write(frame string) error
}

// Handler implements the POST /mcp and POST /mcp/streamable request bodies
// (spec §4.5, §6).
type Handler struct {
	writer        Writer
	maxMessageSize int
	logger        *log.Logger
}

// New constructs a Handler writing accepted frames through writer.
func New(writer Writer, maxMessageSize int, logger *log.Logger) *Handler {
	return &Handler{writer: writer, maxMessageSize: maxMessageSize, logger: logger}
}

// Result is what ServeJSON returns to the caller so an HTTP-layer wrapper
// (internal/httpapi) can translate it into the right status code and body.
type Result struct {
	MessageCount int
}

// Outcome classifies how a submission was handled, so callers can choose an
// HTTP status independent of this package's error values.
type Outcome int

const (
	// OutcomeAccepted means every frame was written (or handed off with
	// lazy-start) — caller should respond 202.
	OutcomeAccepted Outcome = iota
	// OutcomeBadRequest means validation failed — caller should respond 400.
	OutcomeBadRequest
	// OutcomeUnavailable means the child is not running and lazy-start is
	// disabled — caller should respond 503.
	OutcomeUnavailable
)

// HandleError wraps an Outcome and a human-readable message, returned by
// ServeJSON on anything but success.
type HandleError struct {
	Outcome Outcome
	Message string
}

func (e *HandleError) Error() string { return e.Message }

// ServeJSON validates and delivers an inbound body, per spec §4.5's
// Validation/Normalization/Delivery sequence. contentType is the raw
// Content-Type header value; body is the already-size-limited request body
// bytes (the caller is expected to have applied http.MaxBytesReader or
// equivalent using h.maxMessageSize).
func (h *Handler) ServeJSON(contentType string, body []byte) (*Result, error) {
	if !strings.Contains(contentType, "application/json") {
		return nil, &HandleError{OutcomeBadRequest, "Content-Type must be application/json"}
	}
	if len(body) == 0 {
		return nil, &HandleError{OutcomeBadRequest, "request body must not be empty"}
	}

	envelopes, err := rpc.ParseBody(body)
	if err != nil {
		return nil, &HandleError{OutcomeBadRequest, err.Error()}
	}

	frames := make([]string, len(envelopes))
	for i, env := range envelopes {
		compact, err := env.CompactJSON()
		if err != nil {
			return nil, &HandleError{OutcomeBadRequest, fmt.Sprintf("re-encoding envelope %d: %v", i, err)}
		}
		frames[i] = string(compact) + "\n"
	}

	for i, frame := range frames {
		if err := h.writer.Write(frame); err != nil {
			if h.logger != nil {
				h.logger.Printf("delivery failed for frame %d: %v", i, err)
			}
			return nil, &HandleError{OutcomeUnavailable, "child process is not running"}
		}
	}

	return &Result{MessageCount: len(frames)}, nil
}

// ReadLimitedBody reads r's body up to maxMessageSize+1 bytes so an
// oversized body can be distinguished from one sitting exactly at the
// ceiling, per spec §5's "POST body limit cancels oversized uploads".
func ReadLimitedBody(r *http.Request, maxMessageSize int) ([]byte, error) {
	limited := io.LimitReader(r.Body, int64(maxMessageSize)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("ingress: reading body: %w", err)
	}
	if len(body) > maxMessageSize {
		return nil, &HandleError{OutcomeBadRequest, "request body exceeds maxMessageSize"}
	}
	return body, nil
}

// WantsStreamUpgrade reports whether the request signaled the optional
// inbound-and-upgrade mode (spec §4.5) via `?stream=true` or the
// `X-MCP-Stream: true` header.
func WantsStreamUpgrade(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "true" {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-MCP-Stream"), "true")
}

