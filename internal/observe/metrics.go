// Package observe provides the observability primitives for noxcast:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter bridge set up by [InitProvider].
// A package-level [DefaultMetrics] instance exists for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all noxcast metrics.
const meterName = "github.com/MrWong99/noxcast"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks one provider attempt. Attributes: provider, status.
	SynthesisDuration metric.Float64Histogram

	// LLMDuration tracks AI backend reply latency.
	LLMDuration metric.Float64Histogram

	// RouteDuration tracks the time from accepting an event to handing it to
	// the broadcaster, enrichment included. Attribute: kind.
	RouteDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// CacheLookups counts synthesis cache lookups. Attribute: result (hit|miss).
	CacheLookups metric.Int64Counter

	// CacheWriteFailures counts synthesized audio lost because the cache
	// could not store it. Attribute: provider.
	CacheWriteFailures metric.Int64Counter

	// EventsRouted counts broadcast events. Attribute: kind.
	EventsRouted metric.Int64Counter

	// EventsDropped counts events discarded before broadcast. Attribute: reason.
	EventsDropped metric.Int64Counter

	// ChatMessages counts chat admission outcomes. Attributes: status, reason.
	ChatMessages metric.Int64Counter

	// Narrations counts autonomous narrations. Attribute: category.
	Narrations metric.Int64Counter

	// MoodChanges counts mood transitions. Attribute: mood.
	MoodChanges metric.Int64Counter

	// BroadcastDrops counts frames dropped for slow clients.
	BroadcastDrops metric.Int64Counter

	// --- Gauges ---

	// Connections tracks open WebSocket connections. Attribute: role.
	Connections metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds. Synthesis of a long
// sentence on a cold provider can take several seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.SynthesisDuration, err = histogram("noxcast.synthesis.duration",
		"Latency of a single synthesis provider attempt."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("noxcast.llm.duration",
		"Latency of AI backend chat replies."); err != nil {
		return nil, err
	}
	if met.RouteDuration, err = histogram("noxcast.route.duration",
		"Time from event acceptance to broadcast, enrichment included."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("noxcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "noxcast.provider.requests", "Provider calls by provider, kind and status."},
		{&met.ProviderErrors, "noxcast.provider.errors", "Provider failures by provider and kind."},
		{&met.CacheLookups, "noxcast.synthesis.cache.lookups", "Synthesis cache lookups by result."},
		{&met.CacheWriteFailures, "noxcast.synthesis.cache.write_failures", "Synthesized audio discarded because the cache write failed, by provider."},
		{&met.EventsRouted, "noxcast.events.routed", "Events handed to the broadcaster by kind."},
		{&met.EventsDropped, "noxcast.events.dropped", "Events discarded before broadcast by reason."},
		{&met.ChatMessages, "noxcast.chat.messages", "Chat admission outcomes by status and reason."},
		{&met.Narrations, "noxcast.narrations", "Autonomous narrations by category."},
		{&met.MoodChanges, "noxcast.mood.changes", "Mood transitions by new mood."},
		{&met.BroadcastDrops, "noxcast.broadcast.drops", "Frames dropped because a client queue was full."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.Connections, err = m.Int64UpDownCounter("noxcast.connections",
		metric.WithDescription("Open WebSocket connections by role."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind),
	))
}

// RecordCacheLookup records one cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordCacheWriteFailure records one synthesis result lost to a cache write error.
func (m *Metrics) RecordCacheWriteFailure(ctx context.Context, provider string) {
	m.CacheWriteFailures.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider)))
}

// RecordEventRouted increments the routed counter for kind.
func (m *Metrics) RecordEventRouted(ctx context.Context, kind string) {
	m.EventsRouted.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordEventDropped increments the dropped counter for reason.
func (m *Metrics) RecordEventDropped(ctx context.Context, reason string) {
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordChatMessage records one admission outcome. reason is empty for
// admitted messages.
func (m *Metrics) RecordChatMessage(ctx context.Context, status, reason string) {
	m.ChatMessages.Add(ctx, 1, metric.WithAttributes(
		Attr("status", status), Attr("reason", reason),
	))
}

// RecordNarration increments the narration counter for category.
func (m *Metrics) RecordNarration(ctx context.Context, category string) {
	m.Narrations.Add(ctx, 1, metric.WithAttributes(Attr("category", category)))
}

// RecordMoodChange increments the mood change counter.
func (m *Metrics) RecordMoodChange(ctx context.Context, mood string) {
	m.MoodChanges.Add(ctx, 1, metric.WithAttributes(Attr("mood", mood)))
}
