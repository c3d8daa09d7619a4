package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had its circuit open. The last real failure is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all candidates failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and any number of fallbacks of the same
// type, each behind its own [CircuitBreaker]. Candidates are tried in the
// order they were added.
type FallbackGroup[T any] struct {
	cfg     CircuitBreakerConfig
	logger  *slog.Logger
	entries []entry[T]
}

// NewFallbackGroup returns a group with primary as its first candidate. cfg
// is the template for every candidate's breaker; its Name is replaced.
func NewFallbackGroup[T any](name string, primary T, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &FallbackGroup[T]{cfg: cfg, logger: cfg.Logger}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. It must not be called concurrently with Execute.
func (g *FallbackGroup[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// States reports every candidate's breaker state by name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.entries))
	for _, e := range g.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute calls fn with each candidate in turn until one succeeds. Errors
// matched by the breaker's Ignore function stop the search immediately.
func Execute[T, R any](g *FallbackGroup[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(e.name, e.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				g.logger.Info("served by fallback", "candidate", e.name)
			}
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			g.logger.Debug("skipping candidate with open circuit", "candidate", e.name)
			continue
		case g.cfg.Ignore != nil && g.cfg.Ignore(err):
			return zero, err
		}
		lastErr = err
		g.logger.Warn("candidate failed", "candidate", e.name, "err", err)
	}
	if lastErr == nil {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
