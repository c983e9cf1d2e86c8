package httpapi

import (
	"net/http"
	"time"

	"github.com/scrypster/bridged/internal/ingress"
	"github.com/scrypster/bridged/internal/stream"
	"github.com/scrypster/bridged/internal/supervisor"
)

// processState is the subset of supervisor.State the health handler needs.
type processState = supervisor.State

// Supervisor is the subset of *supervisor.Supervisor the HTTP layer needs.
type Supervisor interface {
	State() processState
}

const serviceName = "bridged"
const serviceVersion = "1.0.0"

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /mcp", s.handlePostMCP)
	mux.HandleFunc("GET /mcp/stream", s.handleEventStream)
	mux.HandleFunc("GET /mcp/streamable", s.handleChunkedStream)
	mux.HandleFunc("POST /mcp/streamable", s.handlePostStreamable)
	if s.debugWS != nil {
		mux.HandleFunc("GET /debug/ws", s.debugWS.ServeHTTP)
	}
	return mux
}

// handleHealthz implements spec §6's GET /healthz: status is "degraded" iff
// restartCount > 5, "unhealthy" iff the child is not running and has
// restarted at least once, "healthy" otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.supervisor.State()

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !st.Running && st.RestartCount > 0:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case st.RestartCount > 5:
		status = "degraded"
	}

	payload := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"process": map[string]interface{}{
			"running":      st.Running,
			"restartCount": st.RestartCount,
		},
		"subscribers": map[string]interface{}{
			"sse":            s.eventStream.Count(),
			"streamableHttp": s.ndjson.Count(),
		},
	}
	if st.Running {
		payload["process"].(map[string]interface{})["pid"] = st.PID
	}

	writeJSON(w, httpStatus, payload)
}

// handleIndex implements spec §6's GET / discovery document.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"health":           "/healthz",
			"ingress":          "/mcp",
			"eventStream":      "/mcp/stream",
			"chunkedStream":    "/mcp/streamable",
			"chunkedIngress":   "/mcp/streamable",
		},
	})
}

// handlePostMCP implements spec §6's POST /mcp.
func (s *Server) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	s.serveIngress(w, r, false)
}

// handlePostStreamable implements spec §6's POST /mcp/streamable, including
// the optional stream-upgrade mode of spec §4.5.
func (s *Server) handlePostStreamable(w http.ResponseWriter, r *http.Request) {
	s.serveIngress(w, r, ingress.WantsStreamUpgrade(r))
}

func (s *Server) serveIngress(w http.ResponseWriter, r *http.Request, upgrade bool) {
	body, err := ingress.ReadLimitedBody(r, s.maxMessageSize)
	if err != nil {
		writeHandleError(w, err)
		return
	}

	result, err := s.ingress.ServeJSON(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeHandleError(w, err)
		return
	}

	if upgrade {
		s.attachChunked(w, r)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "accepted",
		"messageCount": result.MessageCount,
	})
}

func writeHandleError(w http.ResponseWriter, err error) {
	var herr *ingress.HandleError
	if as, ok := err.(*ingress.HandleError); ok {
		herr = as
	}
	if herr == nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch herr.Outcome {
	case ingress.OutcomeUnavailable:
		writeJSONError(w, http.StatusServiceUnavailable, herr.Message)
	default:
		writeJSONError(w, http.StatusBadRequest, herr.Message)
	}
}

// handleEventStream implements spec §6's GET /mcp/stream.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.eventStream.Attach(w, flusher)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.waitForDisconnect(r, sub, s.eventStream.Remove)
}

// handleChunkedStream implements spec §6's GET /mcp/streamable.
func (s *Server) handleChunkedStream(w http.ResponseWriter, r *http.Request) {
	s.attachChunked(w, r)
}

func (s *Server) attachChunked(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.ndjson.Attach(w, flusher)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.waitForDisconnect(r, sub, s.ndjson.Remove)
}

// waitForDisconnect blocks the handler goroutine until the client
// disconnects or the subscriber is evicted for any other reason (spec
// §4.3's Eviction trigger "client disconnect/abort").
func (s *Server) waitForDisconnect(r *http.Request, sub *stream.Subscriber, remove func(*stream.Subscriber)) {
	select {
	case <-r.Context().Done():
		remove(sub)
	case <-sub.Done():
	}
}
