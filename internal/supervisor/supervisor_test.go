package supervisor

import (
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/bridged/internal/config"
)

func testLogger() *log.Logger {
	return log.New(testWriter{}, "test: ", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

type collectingSink struct {
	mu   sync.Mutex
	data []byte
}

func (c *collectingSink) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *collectingSink) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.data)
}

type flushingSink struct {
	collectingSink
	flushed int
}

func (f *flushingSink) Flush() {
	f.mu.Lock()
	f.flushed++
	f.mu.Unlock()
}

func defaultProcessConfig() config.ProcessConfig {
	return config.ProcessConfig{
		RestartBackoffBase: 10 * time.Millisecond,
		RestartBackoffMax:  100 * time.Millisecond,
		LazyStart:          false,
	}
}

func TestBackoffDelayExponential(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second
	assert.Equal(t, base, backoffDelay(base, max, 1))
	assert.Equal(t, 2*base, backoffDelay(base, max, 2))
	assert.Equal(t, 4*base, backoffDelay(base, max, 3))
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := 300 * time.Millisecond
	assert.Equal(t, max, backoffDelay(base, max, 10))
}

func TestSupervisorStartSpawnsAndWriteEchoesBack(t *testing.T) {
	sink := &collectingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	require.NoError(t, sup.Start())
	defer sup.Stop()

	assert.True(t, sup.IsRunning())
	assert.NotZero(t, sup.State().PID)

	require.NoError(t, sup.Write("hello\n"))

	require.Eventually(t, func() bool {
		return sink.String() == "hello\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	sink := &collectingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	require.NoError(t, sup.Start())
	defer sup.Stop()
	pid := sup.State().PID

	require.NoError(t, sup.Start())
	assert.Equal(t, pid, sup.State().PID)
}

func TestSupervisorWriteFailsWhenNotRunningWithoutLazyStart(t *testing.T) {
	sink := &collectingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	err := sup.Write("hello\n")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSupervisorLazyStartSpawnsAndDeliversWrite(t *testing.T) {
	sink := &collectingSink{}
	cfg := defaultProcessConfig()
	cfg.LazyStart = true
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, cfg, sink, testLogger())
	defer sup.Stop()

	require.NoError(t, sup.Write("lazy\n"))

	require.Eventually(t, func() bool {
		return sup.IsRunning()
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return sink.String() == "lazy\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorLazyStartPreservesMultiFrameOrder(t *testing.T) {
	sink := &collectingSink{}
	cfg := defaultProcessConfig()
	cfg.LazyStart = true
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, cfg, sink, testLogger())
	defer sup.Stop()

	// All three frames are written back-to-back, before the cold-start
	// process has necessarily finished spawning. Even though Start()
	// flips Running to true partway through this loop, every frame must
	// still land on child stdin in submission order.
	require.NoError(t, sup.Write("one\n"))
	require.NoError(t, sup.Write("two\n"))
	require.NoError(t, sup.Write("three\n"))

	require.Eventually(t, func() bool {
		return sink.String() == "one\ntwo\nthree\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorFlushesSinkOnChildExit(t *testing.T) {
	sink := &flushingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "printf partial"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	require.NoError(t, sup.Start())
	defer sup.Stop()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.flushed >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorRestartsOnCrash(t *testing.T) {
	sink := &collectingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "exit 1"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	require.NoError(t, sup.Start())
	defer sup.Stop()

	require.Eventually(t, func() bool {
		return sup.State().RestartCount >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	sink := &collectingSink{}
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "cat"}}
	sup := New(spec, defaultProcessConfig(), sink, testLogger())

	require.NoError(t, sup.Start())
	require.NoError(t, sup.Stop())
	require.NoError(t, sup.Stop())

	assert.False(t, sup.IsRunning())
}

func TestSupervisorStopCancelsPendingRestart(t *testing.T) {
	sink := &collectingSink{}
	cfg := defaultProcessConfig()
	cfg.RestartBackoffBase = 200 * time.Millisecond
	spec := config.ToolSpec{Command: "sh", Args: []string{"-c", "exit 1"}}
	sup := New(spec, cfg, sink, testLogger())

	require.NoError(t, sup.Start())

	require.Eventually(t, func() bool {
		return !sup.IsRunning()
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Stop())

	countAtStop := sup.State().RestartCount
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, countAtStop, sup.State().RestartCount)
}
