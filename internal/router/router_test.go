package router

import (
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type collectingTarget struct {
	mu     sync.Mutex
	frames []string
}

func (c *collectingTarget) Broadcast(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *collectingTarget) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func discardLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRouterBroadcastsValidRequestToAllTargets(t *testing.T) {
	a, b := &collectingTarget{}, &collectingTarget{}
	r := New(discardLogger(), a, b)

	r.HandleLine(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	want := []string{`{"jsonrpc":"2.0","id":1,"method":"ping"}`}
	assert.Equal(t, want, a.Frames())
	assert.Equal(t, want, b.Frames())
}

func TestRouterCompactsWhitespace(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`{ "jsonrpc": "2.0", "id": 1, "method": "ping" }`)

	assert.Equal(t, []string{`{"jsonrpc":"2.0","id":1,"method":"ping"}`}, a.Frames())
}

func TestRouterDropsInvalidFrameAndContinues(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`not json`)
	r.HandleLine(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	assert.Equal(t, []string{`{"jsonrpc":"2.0","id":1,"method":"ping"}`}, a.Frames())
}

func TestRouterDropsEnvelopeMissingJSONRPCVersion(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`{"id":1,"method":"ping"}`)

	assert.Empty(t, a.Frames())
}

func TestRouterBroadcastsBatchFrameAsOneArray(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"}]`)

	assert.Equal(t, []string{
		`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"}]`,
	}, a.Frames())
}

func TestRouterBroadcastsSingleElementBatchAsArray(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`[ { "jsonrpc": "2.0", "id": 1, "method": "a" } ]`)

	assert.Equal(t, []string{
		`[{"jsonrpc":"2.0","id":1,"method":"a"}]`,
	}, a.Frames())
}

func TestRouterDropsEntireBatchWhenOneElementIsInvalid(t *testing.T) {
	a := &collectingTarget{}
	r := New(discardLogger(), a)

	r.HandleLine(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"id":2,"method":"b"}]`)

	assert.Empty(t, a.Frames())
}

func TestRouterWithNoLoggerDoesNotPanicOnInvalidFrame(t *testing.T) {
	r := New(nil)
	assert.NotPanics(t, func() {
		r.HandleLine(`not json`)
	})
}
