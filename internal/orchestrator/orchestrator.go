// Package orchestrator implements the Lifecycle Orchestrator (spec §4.6):
// it resolves configuration, wires every component together by explicit
// construction (spec §9's "no component holds a strong reference upward"),
// and owns the process-wide startup and idempotent shutdown sequence.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/bridged/internal/config"
	"github.com/scrypster/bridged/internal/framing"
	"github.com/scrypster/bridged/internal/httpapi"
	"github.com/scrypster/bridged/internal/ingress"
	"github.com/scrypster/bridged/internal/router"
	"github.com/scrypster/bridged/internal/stream"
	"github.com/scrypster/bridged/internal/supervisor"
)

// Bridge is the fully-wired service: one Process Supervisor, one Frame
// Splitter, one Message Router, two Subscriber Engines, the optional debug
// websocket mirror, the Ingress Handler, and the HTTP server.
type Bridge struct {
	cfg        *config.Config
	logger     *log.Logger
	supervisor *supervisor.Supervisor
	router     *router.Router
	eventSE    *stream.EventStreamEngine
	ndjsonSE   *stream.ChunkedNDJSONEngine
	debugWS    *stream.DebugWebSocketHub
	httpServer *httpapi.Server

	shutdownOnce sync.Once
}

// New resolves the ${input:ID} tokens in spec.Args against lookup and
// constructs every component, including the HTTP server, but does not start
// the child process or the listener — call Start for that (spec §4.6).
func New(cfg *config.Config, spec config.ToolSpec, lookup func(string) (string, bool), logger *log.Logger) (*Bridge, error) {
	resolvedArgs, err := config.ResolveInputs(spec.Args, lookup)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolving tool spec inputs: %w", err)
	}
	spec.Args = resolvedArgs

	eventSE := stream.NewEventStreamEngine(cfg.Limits.MaxSubscribers, cfg.Limits.MaxBufferSize, cfg.Limits.KeepaliveInterval)
	ndjsonSE := stream.NewChunkedNDJSONEngine(cfg.Limits.MaxSubscribers, cfg.Limits.MaxBufferSize, cfg.Limits.MaxBufferSize, logger)
	debugWS := stream.NewDebugWebSocketHub()

	msgRouter := router.New(logger, eventSE, ndjsonSE, debugWS)

	splitter := framing.New(msgRouter.HandleLine)
	sup := supervisor.New(spec, cfg.Process, splitter, logger)

	ingressHandler := ingress.New(sup, cfg.Limits.MaxMessageSize, logger)

	httpCfg := httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port, MaxMessageSize: cfg.Limits.MaxMessageSize}
	httpServer := httpapi.New(httpCfg, sup, eventSE, ndjsonSE, debugWS, ingressHandler, nil, logger)

	return &Bridge{
		cfg:        cfg,
		logger:     logger,
		supervisor: sup,
		router:     msgRouter,
		eventSE:    eventSE,
		ndjsonSE:   ndjsonSE,
		debugWS:    debugWS,
		httpServer: httpServer,
	}, nil
}

// Start binds the HTTP listener and, unless LazyStart is enabled, spawns
// the child process immediately (spec §4.6).
func (b *Bridge) Start() error {
	if err := b.httpServer.Start(); err != nil {
		return err
	}
	if !b.cfg.Process.LazyStart {
		if err := b.supervisor.Start(); err != nil {
			return fmt.Errorf("orchestrator: starting child process: %w", err)
		}
	}
	return nil
}

// Addr returns the bound HTTP listener address.
func (b *Bridge) Addr() string {
	if addr := b.httpServer.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Shutdown runs the §4.6 shutdown sequence exactly once, regardless of
// how many times it is called (idempotent on repeated signals): (1) close
// all subscribers on both engines, (2) stop the Supervisor, (3) close the
// HTTP listener.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var shutdownErr error
	b.shutdownOnce.Do(func() {
		st := b.supervisor.State()
		if b.logger != nil {
			b.logger.Printf("shutting down: restartCount=%d sseSubscribers=%d streamableSubscribers=%d",
				st.RestartCount, b.eventSE.Count(), b.ndjsonSE.Count())
		}

		b.eventSE.CloseAll()
		b.ndjsonSE.CloseAll()
		if b.debugWS != nil {
			b.debugWS.CloseAll()
		}

		if err := b.supervisor.Stop(); err != nil {
			shutdownErr = fmt.Errorf("orchestrator: stopping supervisor: %w", err)
		}

		if err := b.httpServer.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("orchestrator: shutting down http server: %w", err)
		}
	})
	return shutdownErr
}

// DefaultShutdownTimeout is the deadline cmd/bridged puts on the context it
// passes to Shutdown. Shutdown does not apply it on its own: it waits for
// in-flight HTTP requests only as long as the caller's context allows.
const DefaultShutdownTimeout = 10 * time.Second
