package stream

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventStreamEngine is the "event-stream" egress transport (spec §4.3, §6:
// GET /mcp/stream): SSE-style "data: <frame>\n\n" frames, an opening comment
// frame, and a keepalive comment ticker that runs only while at least one
// subscriber is attached.
type EventStreamEngine struct {
	core *engineCore

	keepaliveInterval time.Duration

	mu           sync.Mutex
	keepaliveRun *time.Ticker
	keepaliveDone chan struct{}
}

// NewEventStreamEngine constructs the event-stream engine.
func NewEventStreamEngine(maxSubscribers, maxBufferSize int, keepaliveInterval time.Duration) *EventStreamEngine {
	e := &EventStreamEngine{keepaliveInterval: keepaliveInterval}
	e.core = newEngineCore(maxSubscribers, maxBufferSize, renderSSE)
	e.core.onAttach = e.handleAttach
	e.core.onDetach = e.handleDetach
	return e
}

func renderSSE(frame string) string {
	return fmt.Sprintf("data: %s\n\n", frame)
}

// Attach registers w as a new SSE subscriber, writing the opening comment
// frame immediately (spec §4.3: "a subscriber always receives the opening
// frame before any broadcast frame, even if the broadcast race wins").
func (e *EventStreamEngine) Attach(w http.ResponseWriter, flusher http.Flusher) (*Subscriber, error) {
	if e.core.Count() >= e.core.maxSubscribers {
		return nil, ErrCapacityExceeded
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(": stream opened\n\n")); err != nil {
		return nil, err
	}
	flusher.Flush()

	return e.core.attach(sink{w: w, f: flusher})
}

// Broadcast fans frame out to every attached subscriber.
func (e *EventStreamEngine) Broadcast(frame string) {
	e.core.broadcast(frame)
}

// Remove evicts a subscriber (e.g. on client disconnect detected by the
// handler's r.Context().Done()).
func (e *EventStreamEngine) Remove(sub *Subscriber) {
	e.core.evict(sub)
}

// CloseAll evicts every subscriber, used during orchestrated shutdown (spec
// §4.6). Event-stream has no sentinel frame: the connection simply ends.
func (e *EventStreamEngine) CloseAll() {
	e.core.closeAll("")
}

// Count returns the current subscriber count.
func (e *EventStreamEngine) Count() int {
	return e.core.Count()
}

// handleAttach starts the keepalive ticker on the 0->1 subscriber
// transition (spec §4.3).
func (e *EventStreamEngine) handleAttach(*Subscriber) {
	if e.keepaliveInterval <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.core.Count() != 1 || e.keepaliveRun != nil {
		return
	}
	e.keepaliveRun = time.NewTicker(e.keepaliveInterval)
	e.keepaliveDone = make(chan struct{})
	go e.runKeepalive(e.keepaliveRun, e.keepaliveDone)
}

// handleDetach stops the keepalive ticker on the 1->0 subscriber transition.
func (e *EventStreamEngine) handleDetach(*Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.core.Count() != 0 || e.keepaliveRun == nil {
		return
	}
	e.keepaliveRun.Stop()
	close(e.keepaliveDone)
	e.keepaliveRun = nil
	e.keepaliveDone = nil
}

func (e *EventStreamEngine) runKeepalive(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			e.core.broadcastRaw(": keepalive\n\n")
		case <-done:
			return
		}
	}
}

// sink adapts an http.ResponseWriter + http.Flusher pair to the Sink
// interface expected by engineCore.
type sink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s sink) Flush()                      { s.f.Flush() }
