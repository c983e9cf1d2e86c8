// Package stream implements the Subscriber Engine (spec §4.3): bounded
// per-subscriber buffering, backpressure, slow-client eviction, and orderly
// close, shared by the event-stream and chunked-ndjson egress transports.
//
// Grounded on web/handlers/websocket.go's WebSocketHub (register/unregister
// maps, per-client buffered channel, drop-on-overflow policy), generalized
// from a single wire format into a shared engineCore that each concrete
// engine (sse.go, ndjson.go) wraps with its own on-wire frame renderer,
// keepalive policy, and replay behavior.
package stream

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCapacityExceeded is returned by Attach when the engine already holds
// maxSubscribers live subscribers (spec §4.3, §6: HTTP 503-equivalent).
var ErrCapacityExceeded = errors.New("stream: subscriber capacity exceeded")

// Sink is the minimal per-connection write surface a subscriber writes to.
// http.ResponseWriter plus http.Flusher satisfy this directly.
type Sink interface {
	io.Writer
	Flush()
}

// Subscriber is a live streaming egress connection (§3). The queue and
// queuedBytes invariant (queuedBytes == sum of queued frame byte lengths,
// queuedBytes <= maxBufferSize) is maintained entirely under mu.
type Subscriber struct {
	ID             string
	ConnectedAt    time.Time
	mu             sync.Mutex
	lastActivityAt time.Time
	sink           Sink
	queue          []queueItem
	queuedBytes    int
	closed         bool
	notify         chan struct{}
	done           chan struct{}
}

// LastActivityAt returns the last time a frame was successfully flushed to
// this subscriber.
func (sub *Subscriber) LastActivityAt() time.Time {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.lastActivityAt
}

// QueuedBytes returns the current queue byte total, for tests and
// diagnostics verifying the invariant in spec §8.
func (sub *Subscriber) QueuedBytes() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.queuedBytes
}

// Done returns a channel closed when the subscriber has been evicted or the
// engine has shut down; HTTP handlers select on it alongside
// r.Context().Done() to know when to return.
func (sub *Subscriber) Done() <-chan struct{} {
	return sub.done
}

// render turns one logical frame into its on-wire bytes for this engine
// flavor (e.g. "data: <frame>\n\n" or "<frame>\n").
type render func(frame string) string

// queueItem is one pending outbound unit. raw items (e.g. an SSE keepalive
// comment) bypass render and are written exactly as given.
type queueItem struct {
	text string
	raw  bool
}

// engineCore is the shared bounded-broadcast machinery behind both egress
// flavors (spec §4.3's "Common behavior").
type engineCore struct {
	mu             sync.Mutex
	subscribers    map[string]*Subscriber
	maxSubscribers int
	maxBufferSize  int
	render         render
	onAttach       func(sub *Subscriber) // e.g. keepalive timer start/stop, replay drain
	onDetach       func(sub *Subscriber)
}

func newEngineCore(maxSubscribers, maxBufferSize int, r render) *engineCore {
	return &engineCore{
		subscribers:    make(map[string]*Subscriber),
		maxSubscribers: maxSubscribers,
		maxBufferSize:  maxBufferSize,
		render:         r,
	}
}

// Count returns the current live subscriber count (spec §3 invariant
// |subscribers| <= maxSubscribers is enforced at Attach).
func (e *engineCore) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// attach registers a new subscriber writing to sink, rejecting with
// ErrCapacityExceeded once maxSubscribers is reached (spec §4.3).
func (e *engineCore) attach(sink Sink) (*Subscriber, error) {
	e.mu.Lock()
	if len(e.subscribers) >= e.maxSubscribers {
		e.mu.Unlock()
		return nil, ErrCapacityExceeded
	}

	sub := &Subscriber{
		ID:             uuid.NewString(),
		ConnectedAt:    time.Now(),
		lastActivityAt: time.Now(),
		sink:           sink,
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	e.subscribers[sub.ID] = sub
	e.mu.Unlock()

	go e.runSubscriber(sub)

	if e.onAttach != nil {
		e.onAttach(sub)
	}
	return sub, nil
}

// broadcast enqueues frame onto every live subscriber (spec §4.3's
// Broadcast). A subscriber whose queue would overflow maxBufferSize is
// evicted rather than partially filled.
func (e *engineCore) broadcast(frame string) {
	e.mu.Lock()
	subs := make([]*Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if !e.enqueue(sub, queueItem{text: frame}) {
			e.evict(sub)
		}
	}
}

// broadcastRaw enqueues pre-rendered wire text (e.g. an SSE keepalive
// comment) that bypasses render entirely. Unlike broadcast, a raw item that
// would overflow a subscriber's buffer is silently dropped rather than
// triggering eviction — a missed keepalive tick is not a protocol violation.
func (e *engineCore) broadcastRaw(wire string) {
	e.mu.Lock()
	subs := make([]*Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		e.enqueue(sub, queueItem{text: wire, raw: true})
	}
}

// enqueue appends item to sub's queue if doing so would not exceed
// maxBufferSize, and wakes its writer goroutine. Returns false if a
// non-raw item was rejected for capacity (the caller must then evict).
func (e *engineCore) enqueue(sub *Subscriber, item queueItem) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return true // already gone; nothing to do, not a capacity failure
	}
	if sub.queuedBytes+len(item.text) > e.maxBufferSize {
		return item.raw
	}
	sub.queue = append(sub.queue, item)
	sub.queuedBytes += len(item.text)

	select {
	case sub.notify <- struct{}{}:
	default:
	}
	return true
}

// runSubscriber drains sub's queue to its sink in order (spec §4.3's
// Flush). A blocking Write to the sink is this implementation's mapping of
// "suspend the flush until the sink drains" — Go's http.ResponseWriter has
// no separate drain signal, so the flush naturally suspends on the Write
// call itself and resumes as soon as it returns.
func (e *engineCore) runSubscriber(sub *Subscriber) {
	for {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			return
		}
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.notify:
				continue
			case <-sub.done:
				return
			}
		}
		item := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.queuedBytes -= len(item.text)
		sink := sub.sink
		sub.mu.Unlock()

		wire := item.text
		if !item.raw {
			wire = e.render(item.text)
		}
		if _, err := io.WriteString(sink, wire); err != nil {
			e.evict(sub)
			return
		}
		sink.Flush()

		sub.mu.Lock()
		sub.lastActivityAt = time.Now()
		sub.mu.Unlock()
	}
}

// evict closes sub's sink-facing state and removes it from the engine (spec
// §4.3's Eviction): triggered by buffer-overrun, write failure, client
// disconnect, or engine shutdown.
func (e *engineCore) evict(sub *Subscriber) {
	e.mu.Lock()
	_, present := e.subscribers[sub.ID]
	delete(e.subscribers, sub.ID)
	e.mu.Unlock()

	if !present {
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.queue = nil
	sub.queuedBytes = 0
	sub.mu.Unlock()

	close(sub.done)

	if e.onDetach != nil {
		e.onDetach(sub)
	}
}

// closeAll evicts every subscriber, in the manner of spec §4.3's CloseAll.
// sentinel, if non-empty, is written best-effort to each subscriber first.
func (e *engineCore) closeAll(sentinel string) {
	e.mu.Lock()
	subs := make([]*Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if sentinel != "" {
			sub.mu.Lock()
			sink := sub.sink
			sub.mu.Unlock()
			io.WriteString(sink, e.render(sentinel))
		}
		e.evict(sub)
	}
}
