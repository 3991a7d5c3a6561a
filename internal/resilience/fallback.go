package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrAllFailed is returned when every entry in a [FallbackGroup] failed,
	// was skipped by its gate, or has an open circuit breaker.
	ErrAllFailed = errors.New("all providers failed")

	// ErrNoProviders is returned when a [FallbackGroup] has no entries.
	ErrNoProviders = errors.New("no providers configured")

	// errGated marks an entry that its availability gate rejected.
	errGated = errors.New("provider unavailable")
)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds every single attempt. Zero means the caller's
	// context is the only limit.
	AttemptTimeout time.Duration
}

// Gate decides whether an entry should be attempted at all. A rejected entry
// is skipped without touching its circuit breaker.
type Gate[T any] func(ctx context.Context, name string, value T) bool

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered chain of providers of the same type. Entries are
// tried in registration order; the first success wins and no entry is retried.
//
// Entries must all be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	gate    Gate[T]
}

// NewFallbackGroup creates an empty [FallbackGroup].
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a provider to the end of the chain.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// SetGate installs an availability gate consulted before every attempt.
func (fg *FallbackGroup[T]) SetGate(g Gate[T]) {
	fg.gate = g
}

// Len reports the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in chain order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Each calls fn for every entry in chain order.
func (fg *FallbackGroup[T]) Each(fn func(name string, value T)) {
	for _, e := range fg.entries {
		fn(e.name, e.value)
	}
}

// State reports the breaker state of the named entry.
func (fg *FallbackGroup[T]) State(name string) (State, bool) {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	_, _, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds and returns the result together with the winning entry's name.
// It is a package-level function because Go has no method type parameters.
//
// When ctx is cancelled iteration stops and ctx.Err() is returned.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, v T) (R, error)) (R, string, error) {
	var zero R
	if len(fg.entries) == 0 {
		return zero, "", ErrNoProviders
	}

	var lastErr error
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		entry := &fg.entries[i]
		if fg.gate != nil && !fg.gate(ctx, entry.name, entry.value) {
			slog.Debug("skipping provider (unavailable)", "provider", entry.name)
			lastErr = fmt.Errorf("%s: %w", entry.name, errGated)
			continue
		}

		var result R
		err := entry.breaker.Execute(func() error {
			actx, cancel := fg.attemptContext(ctx)
			defer cancel()
			var innerErr error
			result, innerErr = fn(actx, entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else if ctx.Err() == nil {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "err", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, "", err
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, fg.cfg.AttemptTimeout)
}
