// Package broadcast fans encoded events out to every connected presentation
// client.
//
// Delivery is best effort: a client whose queue is full misses the frame and
// the drop is counted. Broadcasting never blocks on a slow client.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
)

// Client is one fan-out target.
type Client interface {
	// ID uniquely identifies the client for logging and unregistering.
	ID() string

	// Send enqueues one encoded frame without blocking. It returns false
	// when the frame was dropped.
	Send(frame []byte) bool
}

// Hub is the set of connected clients. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client
	metrics *observe.Metrics
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{clients: make(map[string]Client)}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds c. A client registered under an existing ID replaces it.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("broadcast: client registered", "client", c.ID(), "clients", n)
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.ID()]; ok && cur == c {
		delete(h.clients, c.ID())
	}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("broadcast: client unregistered", "client", c.ID(), "clients", n)
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes e once and sends it to every client. It returns the
// number of clients that accepted the frame.
func (h *Hub) Broadcast(ctx context.Context, e event.Event) int {
	frame, err := event.Encode(e)
	if err != nil {
		observe.Logger(ctx).Error("broadcast: encode failed", "kind", e.Kind, "err", err)
		return 0
	}
	return h.broadcast(ctx, frame, string(e.Kind))
}

// BroadcastRaw sends an already encoded frame to every client.
func (h *Hub) BroadcastRaw(ctx context.Context, frame []byte) int {
	return h.broadcast(ctx, frame, "raw")
}

func (h *Hub) broadcast(ctx context.Context, frame []byte, kind string) int {
	h.mu.RLock()
	targets := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(frame) {
			delivered++
			continue
		}
		h.metrics.BroadcastDrops.Add(ctx, 1, metric.WithAttributes(observe.Attr("kind", kind)))
		slog.Debug("broadcast: dropped frame for slow client", "client", c.ID(), "kind", kind)
	}
	return delivered
}
