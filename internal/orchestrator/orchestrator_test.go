package orchestrator

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/bridged/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Limits: config.LimitsConfig{
			MaxBufferSize:     1 << 20,
			MaxSubscribers:    10,
			MaxMessageSize:    1 << 20,
			KeepaliveInterval: 0,
			StreamTimeout:     time.Minute,
		},
		Process: config.ProcessConfig{
			RestartBackoffBase: 10 * time.Millisecond,
			RestartBackoffMax:  100 * time.Millisecond,
			LazyStart:          false,
		},
	}
}

func discardLogger() *log.Logger {
	return log.New(discardWriter{}, "test: ", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBridgeEndToEndPostIsAccepted(t *testing.T) {
	cfg := testConfig()
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}

	b, err := New(cfg, spec, config.EnvLookup(), discardLogger())
	require.NoError(t, err)

	require.NoError(t, b.Start())
	defer b.Shutdown(context.Background())

	resp, err := http.Post("http://"+b.Addr()+"/mcp", "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestBridgeShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig()
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}

	b, err := New(cfg, spec, config.EnvLookup(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, b.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Shutdown(ctx))
	require.NoError(t, b.Shutdown(ctx))
}

func TestBridgeResolvesInputTokensInToolSpecArgs(t *testing.T) {
	cfg := testConfig()
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "echo ${input:greeting}"}}

	lookup := func(name string) (string, bool) {
		if name == "INPUT_greeting" {
			return "hello", true
		}
		return "", false
	}

	b, err := New(cfg, spec, lookup, discardLogger())
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer b.Shutdown(context.Background())

	require.True(t, strings.Contains(b.Addr(), "127.0.0.1"))
}
