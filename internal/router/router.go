// Package router is the central dispatch point of the presenter pipeline.
//
// Every event, whether it comes from the agent bridge, the narrator or the
// chat responder, goes through [Router.Route]: it is validated, shown to the
// observers, enriched with synthesized speech when it is a speaking or
// narrate event, and handed to the broadcaster. Invalid events are logged and
// dropped; nothing here returns an error to the caller.
package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/internal/synth"
	"github.com/MrWong99/noxcast/pkg/event"
)

// Synthesizer renders text into speech. Implementations never fail; they
// return [synth.Empty] instead.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) synth.Result
}

// Broadcaster fans an event out to every presentation client.
type Broadcaster interface {
	Broadcast(ctx context.Context, e event.Event) int
}

// Observer is told about every valid event before enrichment.
// Observe must not block.
type Observer interface {
	Observe(ctx context.Context, e event.Event)
}

// Router validates, enriches and broadcasts events.
type Router struct {
	synth   Synthesizer
	out     Broadcaster
	metrics *observe.Metrics

	mu        sync.RWMutex
	observers []Observer

	wg sync.WaitGroup
}

// Option configures a [Router].
type Option func(*Router)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithObserver registers o at construction time.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observers = append(r.observers, o) }
}

// New creates a Router. syn may be nil, in which case speaking and narrate
// events are broadcast with the empty synthesis result.
func New(syn Synthesizer, out Broadcaster, opts ...Option) *Router {
	r := &Router{synth: syn, out: out}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// AddObserver registers o for all subsequently routed events.
func (r *Router) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Route processes one event to completion. For speaking and narrate events
// it waits for synthesis, which is bounded by the synthesizer's own timeouts.
func (r *Router) Route(ctx context.Context, e event.Event) {
	start := time.Now()
	log := observe.Logger(ctx)

	if !e.Kind.Valid() {
		r.metrics.RecordEventDropped(ctx, "unknown_kind")
		log.Warn("router: dropping event with unknown kind", "kind", e.Kind)
		return
	}
	if e.Timestamp.IsZero() {
		r.metrics.RecordEventDropped(ctx, "bad_timestamp")
		log.Warn("router: dropping event without timestamp", "kind", e.Kind)
		return
	}

	ctx, span := observe.StartSpan(ctx, "router.Route")
	defer span.End()
	span.SetAttributes(attribute.String("event.kind", string(e.Kind)))

	r.notify(ctx, e)

	if e.Kind.Enriched() {
		if text := e.Text(); text != "" {
			e = r.enrich(ctx, e, text)
		}
	}

	n := r.out.Broadcast(ctx, e)
	span.SetAttributes(attribute.Int("broadcast.clients", n))
	r.metrics.RecordEventRouted(ctx, string(e.Kind))
	r.metrics.RouteDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", string(e.Kind))))
}

// RouteAsync routes e on a background goroutine. The caller's cancellation
// does not abort it; [Router.Wait] blocks until all such routes finish.
func (r *Router) RouteAsync(ctx context.Context, e event.Event) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Go(func() {
		defer func() {
			if p := recover(); p != nil {
				observe.Logger(ctx).Error("router: background route panicked", "kind", e.Kind, "panic", p)
			}
		}()
		r.Route(ctx, e)
	})
}

// Wait blocks until every [Router.RouteAsync] call has finished.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) notify(ctx context.Context, e event.Event) {
	r.mu.RLock()
	obs := r.observers
	r.mu.RUnlock()
	for _, o := range obs {
		o.Observe(ctx, e)
	}
}

// enrich merges audio, phonemes and duration into a copy of e's payload.
func (r *Router) enrich(ctx context.Context, e event.Event, text string) event.Event {
	res := synth.Empty()
	if r.synth != nil {
		res = r.synth.Synthesize(ctx, text)
	}
	if res.Phonemes == nil {
		res.Phonemes = synth.Empty().Phonemes
	}
	out := e.Clone()
	out.Payload[event.KeyAudioURL] = res.AudioURL
	out.Payload[event.KeyPhonemes] = res.Phonemes
	out.Payload[event.KeyDuration] = res.Duration
	if res.IsEmpty() {
		observe.Logger(ctx).Debug("router: broadcasting without audio", "kind", e.Kind)
	}
	return out
}
