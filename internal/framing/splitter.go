// Package framing implements the Frame Splitter (spec §4.2): it turns raw
// byte chunks from the child's stdout into complete, newline-delimited
// JSON-RPC text frames.
//
// StdioTransport.Serve (internal/api/mcp/transport.go) used a bufio.Scanner
// against a blocking stdin reader; here the same line-splitting behavior is
// reshaped into an incremental Write-driven buffer so it can be fed by the
// Process Supervisor's stdout pump goroutine chunk by chunk rather than
// line by line.
package framing

import (
	"bytes"
	"strings"
	"sync"
)

// Splitter holds a single text buffer and emits complete frames as chunks
// are appended to it. It is single-producer (the supervisor's stdout pump)
// and single-consumer (the onLine callback), per spec §4.2.
type Splitter struct {
	mu     sync.Mutex
	buf    []byte
	onLine func(frame string)
}

// New creates a Splitter that invokes onLine for each complete, trimmed,
// non-empty frame as it is recognized. onLine is called while holding no
// internal lock of the Splitter's own; buffer updates in Write are
// serialized against each other, but onLine calls made by concurrent Writes
// are not.
func New(onLine func(frame string)) *Splitter {
	return &Splitter{onLine: onLine}
}

// Write appends p to the internal buffer, splits on '\n', and emits every
// complete, non-empty, trimmed segment in order. The final (possibly empty)
// partial segment is retained in the buffer for the next Write. Implements
// io.Writer so a Splitter can be used directly as a stdout sink.
func (s *Splitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)

	var lines []string
	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(s.buf[:idx])
		s.buf = s.buf[idx+1:]
		lines = append(lines, line)
	}
	s.mu.Unlock()

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		s.onLine(trimmed)
	}

	return len(p), nil
}

// Flush emits the buffered partial segment as a frame if non-empty, and
// resets the buffer. The supervisor calls this when the child exits with an
// unterminated final line still buffered; it is NOT part of the steady-state
// invariant (spec §4.2 only guarantees one frame per complete line) and
// exists purely so a final partial line isn't silently dropped on clean
// process exit if it happens to be valid JSON. Most implementations will
// never observe this path because well-behaved children always flush a
// trailing newline.
func (s *Splitter) Flush() {
	s.mu.Lock()
	remaining := strings.TrimSpace(string(s.buf))
	s.buf = nil
	s.mu.Unlock()

	if remaining != "" {
		s.onLine(remaining)
	}
}

