// Package router implements the Message Router (spec §4.4): stateless glue
// that pulls newline-delimited frames off the Frame Splitter, validates each
// as a JSON-RPC envelope, and re-broadcasts the canonical text identically
// to every egress transport. A frame that fails validation is logged and
// skipped; it never interrupts the pipeline for well-formed frames that
// follow it.
package router

import (
	"log"
	"strings"

	"github.com/scrypster/bridged/internal/rpc"
)

// Broadcaster is anything the router can fan a canonical frame out to; both
// stream.EventStreamEngine and stream.ChunkedNDJSONEngine satisfy it, as
// does stream.DebugWebSocketHub.
type Broadcaster interface {
	Broadcast(frame string)
}

// Router owns zero configuration of its own: it exists to keep the Frame
// Splitter decoupled from the Subscriber Engines (spec §4.4).
type Router struct {
	targets []Broadcaster
	logger  *log.Logger
}

// New constructs a Router fanning every validated frame out to targets, in
// the order given.
func New(logger *log.Logger, targets ...Broadcaster) *Router {
	return &Router{targets: targets, logger: logger}
}

// HandleLine is wired as the Frame Splitter's onLine callback (spec §4.2,
// §4.4): it validates line as a JSON-RPC envelope (or batch) and broadcasts
// its canonical, re-serialized text to every target. A line that is itself a
// JSON array (a batch) is re-serialized and broadcast as one array, exactly
// matching the shape the child wrote to stdout — batch-splitting is the
// Ingress Handler's concern on the way in (spec §4.5), not the router's on
// the way out (spec §4.4: "invoke Broadcast [...] with that text", one call
// per emitted frame). Invalid lines are logged with the offending raw text
// and dropped (spec §7's FrameParseError).
func (r *Router) HandleLine(line string) {
	envelopes, err := rpc.ParseBody([]byte(line))
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("frame parse error, dropping line: %v: %q", err, line)
		}
		return
	}

	canonicals := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		canonical, err := env.CompactJSON()
		if err != nil {
			if r.logger != nil {
				r.logger.Printf("frame re-encode error, dropping line: %v: %q", err, line)
			}
			return
		}
		canonicals = append(canonicals, string(canonical))
	}

	if isBatchFrame(line) {
		r.broadcast("[" + strings.Join(canonicals, ",") + "]")
		return
	}
	for _, canonical := range canonicals {
		r.broadcast(canonical)
	}
}

// isBatchFrame reports whether line's top-level JSON value is an array,
// mirroring rpc.ParseBody's own '[' vs '{' dispatch.
func isBatchFrame(line string) bool {
	trimmed := strings.TrimLeft(line, " \t\r\n")
	return strings.HasPrefix(trimmed, "[")
}

func (r *Router) broadcast(frame string) {
	for _, target := range r.targets {
		target.Broadcast(frame)
	}
}
