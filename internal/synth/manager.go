// Package synth turns text into a client-fetchable audio artifact with a
// phoneme track for lip animation.
//
// A [Manager] owns an ordered chain of [tts.Provider] backends and a
// content-addressed [Cache]. Identical text is synthesized at most once per
// cache lifetime; concurrent requests for the same text share one provider
// call. When every provider fails the manager returns the empty [Result]
// instead of an error, so callers can always broadcast.
package synth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/internal/resilience"
	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

// Result is the outcome of one synthesis request.
type Result struct {
	AudioPath string
	AudioURL  string
	Phonemes  []tts.Phoneme
	Duration  float64
	Provider  string
	Cached    bool
}

// Empty returns the "no audio available" result.
func Empty() Result {
	return Result{Phonemes: []tts.Phoneme{}}
}

// IsEmpty reports whether r carries no audio.
func (r Result) IsEmpty() bool { return r.AudioURL == "" }

// Config tunes a [Manager]. Zero values select the defaults.
type Config struct {
	// ProviderTimeout bounds each provider attempt. Default: 15s.
	ProviderTimeout time.Duration

	// AvailabilityTimeout bounds the one-time availability probe of each
	// provider. Default: 3s.
	AvailabilityTimeout time.Duration

	// CircuitBreaker configures the breaker that guards each provider.
	CircuitBreaker resilience.CircuitBreakerConfig
}

var errEmptyAudio = errors.New("synth: provider returned empty audio")

const (
	defaultProviderTimeout     = 15 * time.Second
	defaultAvailabilityTimeout = 3 * time.Second
)

type backend struct {
	name     string
	provider tts.Provider
}

type availability struct {
	once sync.Once
	ok   bool
}

// Manager orchestrates the provider chain and the cache.
//
// Providers must be added before the first call to Synthesize.
type Manager struct {
	cache   *Cache
	cfg     Config
	chain   *resilience.FallbackGroup[backend]
	metrics *observe.Metrics

	mu    sync.Mutex
	avail map[string]*availability

	flight singleflight.Group
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a Manager backed by cache.
func NewManager(cache *Cache, cfg Config, opts ...Option) *Manager {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = defaultAvailabilityTimeout
	}
	m := &Manager{
		cache: cache,
		cfg:   cfg,
		chain: resilience.NewFallbackGroup[backend](resilience.FallbackConfig{
			CircuitBreaker: cfg.CircuitBreaker,
			AttemptTimeout: cfg.ProviderTimeout,
		}),
		avail: make(map[string]*availability),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.chain.SetGate(func(ctx context.Context, name string, b backend) bool {
		return m.isAvailable(ctx, b)
	})
	return m
}

// AddProvider appends p to the end of the chain.
func (m *Manager) AddProvider(name string, p tts.Provider) {
	m.chain.Add(name, backend{name: name, provider: p})
	m.mu.Lock()
	m.avail[name] = &availability{}
	m.mu.Unlock()
}

// Providers returns the chain's provider names in order.
func (m *Manager) Providers() []string { return m.chain.Names() }

// Cache returns the underlying artifact cache.
func (m *Manager) Cache() *Cache { return m.cache }

// Synthesize returns audio and alignment for text. It never fails: blank
// text, a cancelled ctx, or a chain where every provider failed all produce
// [Empty].
func (m *Manager) Synthesize(ctx context.Context, text string) Result {
	text = Normalize(text)
	if text == "" {
		return Empty()
	}

	ctx, span := observe.StartSpan(ctx, "synth.Synthesize")
	defer span.End()

	digest := Digest(text)
	if res, ok := m.cache.Get(digest, text); ok {
		m.metrics.RecordCacheLookup(ctx, true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return res
	}
	m.metrics.RecordCacheLookup(ctx, false)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// Detached from the first caller so a departing caller does not fail
	// everyone sharing the flight. Each attempt is still bounded by
	// ProviderTimeout.
	ch := m.flight.DoChan(digest, func() (any, error) {
		return m.synthesizeMiss(context.WithoutCancel(ctx), digest, text), nil
	})
	select {
	case r := <-ch:
		res := r.Val.(Result)
		span.SetAttributes(attribute.String("provider", res.Provider))
		return res
	case <-ctx.Done():
		return Empty()
	}
}

func (m *Manager) synthesizeMiss(ctx context.Context, digest, text string) Result {
	// Another flight may have committed while we waited for ours.
	if res, ok := m.cache.Get(digest, text); ok {
		return res
	}

	audio, name, err := resilience.ExecuteWithResult(ctx, m.chain,
		func(ctx context.Context, b backend) (*tts.Audio, error) {
			return m.attempt(ctx, b, text)
		})
	if err != nil {
		observe.Logger(ctx).Warn("synthesis failed on every provider", "err", err, "chars", len(text))
		return Empty()
	}

	res, err := m.cache.Put(digest, text, name, audio)
	if err != nil {
		m.metrics.RecordCacheWriteFailure(ctx, name)
		observe.Logger(ctx).Warn("synthesized audio discarded: cache write failed",
			"provider", name, "digest", digest, "chars", len(text), "err", err)
		return Empty()
	}
	slog.Debug("synthesized", "provider", name, "digest", digest[:12], "duration", res.Duration)
	return res
}

func (m *Manager) attempt(ctx context.Context, b backend, text string) (*tts.Audio, error) {
	start := time.Now()
	audio, err := b.provider.Synthesize(ctx, text)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = errEmptyAudio
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.metrics.RecordProviderError(ctx, b.name, "tts")
	}
	m.metrics.RecordProviderRequest(ctx, b.name, "tts", status)
	m.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", b.name), observe.Attr("status", status)))
	trace.SpanFromContext(ctx).AddEvent("synth.attempt", trace.WithAttributes(
		attribute.String("provider", b.name), attribute.String("status", status)))
	return audio, err
}

// isAvailable probes b once per process. Later calls return the first answer.
func (m *Manager) isAvailable(ctx context.Context, b backend) bool {
	m.mu.Lock()
	a := m.avail[b.name]
	m.mu.Unlock()
	if a == nil {
		return false
	}
	a.once.Do(func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.AvailabilityTimeout)
		defer cancel()
		a.ok = b.provider.IsAvailable(pctx)
		slog.Info("synthesis provider probed", "provider", b.name, "available", a.ok)
	})
	return a.ok
}

// Available reports whether at least one provider answered its
// availability probe. It triggers the probes that have not run yet.
func (m *Manager) Available(ctx context.Context) bool {
	ok := false
	m.chain.Each(func(_ string, b backend) {
		if m.isAvailable(ctx, b) {
			ok = true
		}
	})
	return ok
}
