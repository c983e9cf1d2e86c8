// Command bridged runs the JSON-RPC-to-HTTP bridge: it spawns a locally
// configured JSON-RPC child process and exposes it over HTTP per spec §6.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/bridged/internal/config"
	"github.com/scrypster/bridged/internal/orchestrator"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("bridged: ")
	logger := log.New(os.Stderr, "bridged: ", log.LstdFlags)

	cfg := config.LoadConfig()

	toolSpecPath := os.Getenv("MCP_CONFIG_PATH")
	if toolSpecPath == "" {
		logger.Fatal("MCP_CONFIG_PATH must name a tool spec file")
	}

	spec, err := config.LoadToolSpec(toolSpecPath, config.EnvLookup())
	if err != nil {
		logger.Fatalf("loading tool spec: %v", err)
	}

	bridge, err := orchestrator.New(cfg, *spec, config.EnvLookup(), logger)
	if err != nil {
		logger.Fatalf("constructing bridge: %v", err)
	}

	if err := bridge.Start(); err != nil {
		logger.Fatalf("starting bridge: %v", err)
	}
	logger.Printf("bridge listening on %s (lazyStart=%v)", bridge.Addr(), cfg.Process.LazyStart)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received signal %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), orchestrator.DefaultShutdownTimeout)
	defer cancel()

	if err := bridge.Shutdown(ctx); err != nil {
		logger.Fatalf("shutdown error: %v", err)
	}
	logger.Println("shutdown complete")
}
