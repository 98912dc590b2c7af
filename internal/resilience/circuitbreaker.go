// Package resilience provides circuit breaker and provider failover primitives
// for the AI backends lingobot depends on.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open).
// [FallbackGroup] composes several instances of one provider type, each behind
// its own breaker, so that a failing primary is bypassed in favour of healthy
// fallbacks. [LLMFallback] applies this to [llm.Provider].
//
// Cancellation by the caller is never counted as a provider failure.
//
// All types are safe for concurrent use.
//
// [llm.Provider]: github.com/MrWong99/lingobot/pkg/provider/llm.Provider
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected with [ErrCircuitOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A
	// limited number of calls are let through; if they succeed the breaker
	// closes, otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes required in the
	// half-open state before the breaker closes. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probesInFlight  int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax probes run concurrently.
//
// Errors matching [context.Canceled] are passed through without being
// recorded, so a user abandoning a request never trips the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	switch {
	case errors.Is(err, context.Canceled):
		cb.release(probe)
	case err != nil:
		cb.recordFailure(probe)
	default:
		cb.recordSuccess(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.probesInFlight = 0
		cb.probeSuccesses = 0
		fallthrough
	case StateHalfOpen:
		if cb.probesInFlight >= cb.halfOpenMax {
			cb.mu.Unlock()
			cb.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		cb.probesInFlight++
		probe = true
	}
	cb.mu.Unlock()
	cb.notify(changed, from, StateHalfOpen)
	return probe, nil
}

func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probesInFlight > 0 {
		cb.probesInFlight--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordFailure(probe bool) {
	cb.mu.Lock()
	from := cb.state
	if probe && cb.state == StateHalfOpen {
		cb.trip()
	} else {
		cb.consecutiveFail++
		if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
			cb.trip()
		}
	}
	to := cb.state
	fails := cb.consecutiveFail
	cb.mu.Unlock()

	if from != to {
		slog.Warn("circuit breaker opened", "name", cb.name, "from", from.String(), "consecutive_failures", fails)
	}
	cb.notify(from != to, from, to)
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
}

func (cb *CircuitBreaker) recordSuccess(probe bool) {
	cb.mu.Lock()
	from := cb.state
	cb.consecutiveFail = 0
	if probe && cb.state == StateHalfOpen {
		cb.probesInFlight--
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.probesInFlight = 0
			cb.probeSuccesses = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		slog.Info("circuit breaker closed after successful probes", "name", cb.name)
	}
	cb.notify(from != to, from, to)
}

func (cb *CircuitBreaker) notify(changed bool, from, to State) {
	if changed && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
	cb.mu.Unlock()

	slog.Info("circuit breaker manually reset", "name", cb.name)
	cb.notify(from != StateClosed, from, StateClosed)
}
