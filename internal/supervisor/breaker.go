package supervisor

import (
	"time"

	"github.com/sony/gobreaker"
)

// circuitBreaker guards exec.Command's Start() against a permanently broken
// ToolSpec (e.g. a missing binary). It does not replace the §4.1 backoff
// timer — that still governs restart *cadence* — it only short-circuits the
// spawn attempt itself once failures are clearly persistent, so a dead
// binary doesn't pay the cost of a fresh fork/exec on every backoff tick.
//
// Grounded on internal/llm/circuit_breaker.go's CircuitBreaker wrapper
// (same gobreaker.Settings shape), adapted from guarding an LLM call to
// guarding a child-process spawn.
type circuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

func newCircuitBreaker() *circuitBreaker {
	settings := gobreaker.Settings{
		Name:        "child-spawn",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &circuitBreaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. If the breaker is open, fn is not
// invoked and gobreaker.ErrOpenState is returned.
func (cb *circuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return cb.breaker.Execute(fn)
}

// State returns "closed", "open", or "half-open".
func (cb *circuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
