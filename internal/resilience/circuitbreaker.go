// Package resilience keeps a chat turn answerable when a model is struggling.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops sending work to a model after repeated failures. [FallbackGroup]
// gives every candidate its own breaker and tries them in order, and
// [ModelFallback] applies that to streaming chat replies.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and probes.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open.
	// Default: 1.
	HalfOpenMax int

	// Ignore reports errors that say nothing about the model's health, such
	// as a cancelled context. Ignored errors are returned but not counted.
	Ignore func(error) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	ignore       func(error) bool
	logger       *slog.Logger
	now          func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
	halfOpenOK    int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		ignore:       cfg.Ignore,
		logger:       cfg.Logger.With("breaker", cfg.Name),
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open or out of half-open probes, in
// which case it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.succeeded(probe)
	case cb.ignore != nil && cb.ignore(err):
		if probe {
			// Give the probe slot back.
			cb.halfOpenCalls--
		}
	default:
		cb.failed(probe)
	}
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
		cb.logger.Info("circuit half-open")
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return true, nil
	}
	return false, nil
}

// failed must be called with mu held.
func (cb *CircuitBreaker) failed(probe bool) {
	if probe {
		cb.trip()
		cb.logger.Warn("circuit re-opened by failed probe")
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.trip()
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
	}
}

// succeeded must be called with mu held.
func (cb *CircuitBreaker) succeeded(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failures = 0
		cb.logger.Info("circuit closed")
	}
}

// trip must be called with mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
}
