// Package httpapi mounts the bridge's HTTP surface (spec §6) over the
// Subscriber Engines and Ingress Handler, and owns the HTTP listener's
// startup/graceful-shutdown lifecycle.
//
// Grounded on internal/server/server.go's net.Listen + http.Server{} +
// goroutine Serve() + context-triggered Shutdown() pattern, and on
// web/handlers/middleware.go for the CORS/rate-limit middleware shape.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/scrypster/bridged/internal/ingress"
	"github.com/scrypster/bridged/internal/stream"
)

// Config configures the HTTP listener.
type Config struct {
	Host           string
	Port           int
	MaxMessageSize int
}

// Server owns the net.Listener, http.Server, and route wiring for the
// bridge's external interface.
type Server struct {
	cfg            Config
	supervisor     Supervisor
	eventStream    *stream.EventStreamEngine
	ndjson         *stream.ChunkedNDJSONEngine
	debugWS        *stream.DebugWebSocketHub
	ingress        *ingress.Handler
	maxMessageSize int
	rateLimiter    *RateLimiter
	logger         *log.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New constructs a Server. debugWS and rateLimiter may be nil (the debug
// mirror and rate limiting are both optional, additive pieces).
func New(
	cfg Config,
	sup Supervisor,
	eventStream *stream.EventStreamEngine,
	ndjson *stream.ChunkedNDJSONEngine,
	debugWS *stream.DebugWebSocketHub,
	ing *ingress.Handler,
	rateLimiter *RateLimiter,
	logger *log.Logger,
) *Server {
	return &Server{
		cfg:            cfg,
		supervisor:     sup,
		eventStream:    eventStream,
		ndjson:         ndjson,
		debugWS:        debugWS,
		ingress:        ing,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    rateLimiter,
		logger:         logger,
	}
}

// Start binds the listener and begins serving in a background goroutine. It
// returns once the listener is bound, not once serving stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", addr, err)
	}
	s.listener = listener

	handler := securityHeadersMiddleware(corsMiddleware(rateLimitMiddleware(s.rateLimiter, s.mux())))
	s.httpServer = &http.Server{Handler: handler}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Printf("http server exited: %v", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Printf("listening on %s", listener.Addr())
	}
	return nil
}

// Addr returns the bound listener address, valid only after Start succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting new connections and waits (up to ctx's deadline)
// for in-flight requests to drain (spec §4.6 step 3).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
