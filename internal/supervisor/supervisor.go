// Package supervisor implements the Process Supervisor (spec §4.1): it owns
// the child process's stdin, stdout, and stderr, spawns and restarts it with
// exponential backoff, and exposes a small state snapshot for the health
// endpoint.
//
// No teacher file runs a literal OS child process over pipes — the shape of
// the spawn/monitor/destroy lifecycle here is grounded on
// GandalftheGUI-grove/internal/daemon/instance.go's startAgent/ptyReader/destroy,
// adapted from a pty-attached process to a plain stdin/stdout/stderr pipe
// process, and from "kill the pty session's process group" to the identical
// unix.Getpgid + unix.Kill(-pgid, ...) idiom used there.
package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/scrypster/bridged/internal/config"
)

// Sentinel errors surfaced to callers (spec §7).
var (
	ErrNotRunning     = errors.New("supervisor: child process is not running")
	ErrAlreadyStopped = errors.New("supervisor: already stopped")
)

// State is a read-only snapshot of the child process (spec §3's
// ProcessState). Invariant: Running implies PID is non-zero.
type State struct {
	PID           int
	Running       bool
	RestartCount  int
	LastRestartAt time.Time
}

// gracePeriod is how long Stop waits for a graceful exit before forcing a
// kill (spec §4.1).
const gracePeriod = 5 * time.Second

// lazyStartDelay is the scheduled delay before an ingress frame is written
// once lazy-start triggers a spawn (spec §4.1, §9). This is racy against a
// concurrent crash/restart: if the child dies in this window the frame is
// dropped, which is the documented best-effort behavior of spec §7.
const lazyStartDelay = 100 * time.Millisecond

// Supervisor owns one child process for the lifetime of the bridge.
type Supervisor struct {
	spec   config.ToolSpec
	cfg    config.ProcessConfig
	stdout io.Writer   // receives framed stdout bytes (the Frame Splitter)
	stderr *log.Logger // stderr is logged, never parsed (spec §4.1)
	breaker *circuitBreaker

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	state         State
	restartTimer  *time.Timer
	stopped       bool
	exited        chan struct{} // replaced each spawn; closed when the child fully exits
	warmingUp     bool          // true from the first lazy-start Write until its deferred flush
	warmupPending []string      // frames written while warmingUp, flushed in order
}

// New creates a Supervisor for the given ToolSpec. stdout receives raw
// stdout byte chunks (wire it to a framing.Splitter); stderr receives raw
// stderr chunks, logged via stderrLog and otherwise ignored (spec §4.1).
func New(spec config.ToolSpec, cfg config.ProcessConfig, stdout io.Writer, stderrLog *log.Logger) *Supervisor {
	return &Supervisor{
		spec:    spec,
		cfg:     cfg,
		stdout:  stdout,
		stderr:  stderrLog,
		breaker: newCircuitBreaker(),
	}
}

// State returns a snapshot of the current process state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a child is currently alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Running
}

// Start spawns the child if one is not already running. Idempotent: if a
// child is already running, it returns immediately with no error.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state.Running {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrAlreadyStopped
	}
	s.mu.Unlock()

	return s.spawn()
}

// spawn starts the child process, guarded by the circuit breaker so that a
// permanently-missing binary fails fast instead of being retried forever at
// full speed; the §4.1 backoff timer still governs restart *cadence* when
// the breaker is closed.
func (s *Supervisor) spawn() error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.doSpawn()
	})
	if err != nil {
		s.scheduleRestart()
		return fmt.Errorf("supervisor: spawn failed: %w", err)
	}
	return nil
}

func (s *Supervisor) doSpawn() error {
	cmd := buildCommand(s.spec)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	exited := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.state.PID = cmd.Process.Pid
	s.state.Running = true
	s.exited = exited
	s.mu.Unlock()

	go s.pumpStdout(stdout)
	go s.pumpStderr(stderr)
	go s.wait(cmd, exited)

	return nil
}

// flusher is implemented by framing.Splitter; pumpStdout type-asserts s.stdout
// against it so the supervisor can flush a trailing unterminated line without
// importing the framing package directly.
type flusher interface {
	Flush()
}

// pumpStdout copies raw stdout bytes into the Frame Splitter sink, then
// flushes it once the pipe closes (the child exited) so a final line left
// without a trailing newline is still emitted as a frame (spec §4.2).
func (s *Supervisor) pumpStdout(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && s.stdout != nil {
			s.stdout.Write(buf[:n])
		}
		if err != nil {
			if f, ok := s.stdout.(flusher); ok {
				f.Flush()
			}
			return
		}
	}
}

// pumpStderr forwards raw stderr bytes to the logger, line by line. Stderr
// never participates in framing (spec §4.1).
func (s *Supervisor) pumpStderr(r io.Reader) {
	buf := make([]byte, 4096)
	var partial []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := bytes.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(string(partial[:idx]), "\r")
				if line != "" && s.stderr != nil {
					s.stderr.Printf("child stderr: %s", line)
				}
				partial = partial[idx+1:]
			}
		}
		if err != nil {
			if len(partial) > 0 && s.stderr != nil {
				s.stderr.Printf("child stderr: %s", string(partial))
			}
			return
		}
	}
}

// wait blocks for the child's exit, updates state, and schedules a restart
// when the exit looks like a crash (spec §4.1, §7's ChildExited).
func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	s.mu.Lock()
	s.state.Running = false
	s.state.PID = 0
	stopped := s.stopped
	s.mu.Unlock()

	if stopped {
		return
	}

	if err == nil {
		// Clean exit (code 0): spec §4.1 only restarts on non-zero code or
		// signal, or a spawn error. A clean exit is terminal until the next
		// ingress Write (lazy) or explicit Start.
		return
	}

	s.scheduleRestart()
}

// scheduleRestart arms exactly one restart timer (spec §4.1): at most one
// timer is ever armed at a time, and an explicit Stop cancels it.
func (s *Supervisor) scheduleRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.restartTimer != nil {
		return // one already armed
	}

	s.state.RestartCount++
	s.state.LastRestartAt = time.Now()
	delay := backoffDelay(s.cfg.RestartBackoffBase, s.cfg.RestartBackoffMax, s.state.RestartCount)

	s.restartTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.restartTimer = nil
		stopped := s.stopped
		s.mu.Unlock()

		if stopped {
			return
		}
		if err := s.spawn(); err != nil && s.stderr != nil {
			s.stderr.Printf("restart attempt failed: %v", err)
		}
	})
}

// backoffDelay computes min(max, base*2^(count-1)) per spec §4.1.
func backoffDelay(base, max time.Duration, count int) time.Duration {
	if count < 1 {
		count = 1
	}
	delay := base
	for i := 1; i < count; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Write sends a newline-terminated frame to the child's stdin (spec §4.1).
// With lazy-start enabled and no child running, the first Write of a cold
// start triggers Start and opens a warm-up window: that frame, and every
// frame written before the window's deferred flush fires, are queued and
// flushed to stdin in submission order — so a single ingress batch can
// never be reordered even though the child's Running flag flips true
// (inside doSpawn) well before the deferred write actually reaches stdin
// (spec §4.4/§9: batches preserve submission order at child stdin).
// At-most-once delivery is still not guaranteed across a concurrent
// crash/restart during the warm-up window (spec §7, §9).
func (s *Supervisor) Write(frame string) error {
	s.mu.Lock()
	if s.warmingUp {
		s.warmupPending = append(s.warmupPending, frame)
		s.mu.Unlock()
		return nil
	}

	running := s.state.Running
	stdin := s.stdin
	lazy := s.cfg.LazyStart

	if running {
		s.mu.Unlock()
		return s.writeNow(stdin, frame)
	}

	if !lazy {
		s.mu.Unlock()
		return ErrNotRunning
	}

	s.warmingUp = true
	s.warmupPending = []string{frame}
	s.mu.Unlock()

	if err := s.Start(); err != nil {
		s.mu.Lock()
		s.warmingUp = false
		s.warmupPending = nil
		s.mu.Unlock()
		return err
	}
	time.AfterFunc(lazyStartDelay, s.flushWarmup)
	return nil
}

// flushWarmup writes every frame queued during the warm-up window to stdin,
// in order, then closes the window. If the child is not running by the time
// the window closes (it crashed before finishing its spawn), the queued
// frames are dropped — the same documented best-effort behavior as a single
// frame losing the race (spec §7).
func (s *Supervisor) flushWarmup() {
	s.mu.Lock()
	frames := s.warmupPending
	s.warmupPending = nil
	s.warmingUp = false
	stdin := s.stdin
	running := s.state.Running
	s.mu.Unlock()

	if !running {
		return
	}
	for _, frame := range frames {
		s.writeNow(stdin, frame)
	}
}

// writeNow performs the actual stdin write, serialized against concurrent
// writers (spec §5: child stdin is the single shared write-path).
func (s *Supervisor) writeNow(stdin io.WriteCloser, frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stdin == nil || !s.state.Running {
		return ErrNotRunning
	}
	_, err := io.WriteString(stdin, frame)
	return err
}

// Stop clears any pending restart timer, signals the child to terminate
// gracefully, waits up to the grace period, then forces a kill. Resolves
// once the child has exited. Idempotent on repeated calls (spec §4.6, §7).
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	cmd := s.cmd
	stdin := s.stdin
	running := s.state.Running
	exited := s.exited
	s.mu.Unlock()

	if !running || cmd == nil {
		return nil
	}

	if stdin != nil {
		stdin.Close()
	}
	terminate(cmd)

	select {
	case <-exited:
		return nil
	case <-time.After(gracePeriod):
		kill(cmd)
		<-exited
		return nil
	}
}

// buildCommand constructs the exec.Cmd for the ToolSpec. On platforms where
// the command is not directly executable (a Windows .cmd/.bat script), it is
// invoked through the shell interpreter; elsewhere it is executed directly.
// Shell interpolation is never used — arguments are always passed as a
// slice, never concatenated into a shell command string.
func buildCommand(spec config.ToolSpec) *exec.Cmd {
	if runtime.GOOS == "windows" && needsShellInterpreter(spec.Command) {
		args := append([]string{"/C", spec.Command}, spec.Args...)
		return exec.Command("cmd.exe", args...)
	}
	return exec.Command(spec.Command, spec.Args...)
}

func needsShellInterpreter(command string) bool {
	switch strings.ToLower(filepath.Ext(command)) {
	case ".cmd", ".bat":
		return true
	default:
		return false
	}
}

// setProcessGroup places the child in its own process group so that
// terminate/kill can signal the whole group, matching
// GandalftheGUI-grove/internal/daemon/instance.go's destroy().
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		unix.Kill(-pgid, syscall.SIGTERM)
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		unix.Kill(-pgid, syscall.SIGKILL)
		return
	}
	cmd.Process.Kill()
}
