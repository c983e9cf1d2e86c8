package stream

import (
	"log"
	"net/http"
	"sync"
)

// streamOpenedSentinel is the synthetic frame replayed to a new chunked-
// ndjson subscriber when the replay buffer is empty, so the client always
// receives at least one line confirming the stream is live (spec §4.3).
const streamOpenedSentinel = `{"jsonrpc":"2.0","method":"_stream_opened"}`

// ChunkedNDJSONEngine is the "chunked-ndjson" egress transport (spec §4.3,
// §6: GET/POST /mcp/streamable): one JSON frame per line, no SSE envelope,
// plus a bounded replay buffer so a newly attached subscriber catches up on
// recent frames instead of starting from a blank slate.
type ChunkedNDJSONEngine struct {
	core   *engineCore
	logger *log.Logger

	mu          sync.Mutex
	replay      []string
	replayBytes int
	replayCap   int
}

// NewChunkedNDJSONEngine constructs the chunked-ndjson engine. replayCap
// bounds the replay buffer in bytes, independent of maxBufferSize (which
// bounds each subscriber's own pending queue). logger receives a warning
// whenever the replay buffer trims an entry to stay under replayCap (spec
// §4.3: "messages beyond the ceiling are dropped with a warning"); it may
// be nil, in which case trims are silent.
func NewChunkedNDJSONEngine(maxSubscribers, maxBufferSize, replayCap int, logger *log.Logger) *ChunkedNDJSONEngine {
	e := &ChunkedNDJSONEngine{replayCap: replayCap, logger: logger}
	e.core = newEngineCore(maxSubscribers, maxBufferSize, renderNDJSON)
	return e
}

func renderNDJSON(frame string) string {
	return frame + "\n"
}

// Attach registers w as a new chunked-ndjson subscriber and replays the
// buffered backlog (or the opening sentinel if the backlog is empty).
func (e *ChunkedNDJSONEngine) Attach(w http.ResponseWriter, flusher http.Flusher) (*Subscriber, error) {
	if e.core.Count() >= e.core.maxSubscribers {
		return nil, ErrCapacityExceeded
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, err := e.core.attach(sink{w: w, f: flusher})
	if err != nil {
		return nil, err
	}

	// Only the first attach after a quiet period drains the replay buffer;
	// every attach clears it, so a second attach sees none (spec §4.3).
	e.mu.Lock()
	backlog := e.replay
	e.replay = nil
	e.replayBytes = 0
	e.mu.Unlock()

	if len(backlog) == 0 {
		e.core.enqueue(sub, queueItem{text: streamOpenedSentinel})
		return sub, nil
	}
	for _, frame := range backlog {
		e.core.enqueue(sub, queueItem{text: frame})
	}
	return sub, nil
}

// Broadcast fans frame out to every attached subscriber. While no
// subscriber is attached, frame is also appended to the replay buffer
// (trimming the oldest entries once replayCap is exceeded) so the first
// subsequent attacher can catch up (spec §4.3).
func (e *ChunkedNDJSONEngine) Broadcast(frame string) {
	if e.core.Count() == 0 {
		e.mu.Lock()
		e.replay = append(e.replay, frame)
		e.replayBytes += len(frame)
		for e.replayBytes > e.replayCap && len(e.replay) > 0 {
			dropped := e.replay[0]
			e.replayBytes -= len(dropped)
			e.replay = e.replay[1:]
			if e.logger != nil {
				e.logger.Printf("chunked-ndjson replay buffer over capacity, dropping oldest entry: %q", dropped)
			}
		}
		e.mu.Unlock()
	}

	e.core.broadcast(frame)
}

// Remove evicts a subscriber.
func (e *ChunkedNDJSONEngine) Remove(sub *Subscriber) {
	e.core.evict(sub)
}

// CloseAll evicts every subscriber (spec §4.6), writing streamOpenedSentinel
// first is not appropriate here; the connection simply ends.
func (e *ChunkedNDJSONEngine) CloseAll() {
	e.core.closeAll("")
}

// Count returns the current subscriber count.
func (e *ChunkedNDJSONEngine) Count() int {
	return e.core.Count()
}
