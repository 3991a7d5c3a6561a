// Package chat admits viewer chat into the presenter pipeline.
//
// A [Manager] validates, sanitizes and rate-limits each inbound message,
// broadcasts admitted messages to every presentation client, tells the
// observers about them and hands them to a [Responder] for an AI reply.
// Rejected messages are answered with an error frame sent only to the client
// that sent them.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
)

// RejectError is an admission failure. Code and Message travel to the
// client in the error frame.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string { return "chat: rejected: " + e.Code }

// Admission failures.
var (
	ErrInvalidUsername = &RejectError{Code: "invalid_username", Message: "Invalid username"}
	ErrInvalidText     = &RejectError{Code: "invalid_text", Message: "Invalid text"}
	ErrRateLimited     = &RejectError{Code: "rate_limited", Message: "Rate limit exceeded"}
	ErrTooLong         = &RejectError{Code: "too_long", Message: "Message too long"}
)

// Origin is the client a message came from.
type Origin interface {
	// Identity is the rate-limit key, usually the client's IP.
	Identity() string
	// Send delivers a frame to this client only. It must not block.
	Send(frame []byte) bool
}

// Broadcaster fans an event out to every presentation client.
type Broadcaster interface {
	Broadcast(ctx context.Context, e event.Event) int
}

// Observer is told the sanitized text of every admitted message.
type Observer interface {
	ObserveChat(ctx context.Context, text string)
}

// Forwarder relays admitted messages to the agent bridge.
type Forwarder interface {
	Forward(ctx context.Context, e event.Event)
}

// Config holds the admission limits.
type Config struct {
	MaxLength  int
	RateLimit  int
	RateWindow time.Duration
}

// Manager runs the admission pipeline. It is safe for concurrent use.
type Manager struct {
	out       Broadcaster
	limiter   *RateLimiter
	responder *Responder
	metrics   *observe.Metrics
	now       func() time.Time

	mu         sync.RWMutex
	maxLength  int
	observers  []Observer
	forwarders []Forwarder
}

// Option configures a [Manager].
type Option func(*Manager)

// WithResponder sets the AI responder. Without one, admitted messages are
// broadcast but never answered.
func WithResponder(r *Responder) Option {
	return func(m *Manager) { m.responder = r }
}

// WithObserver registers o at construction time.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithForwarder registers f at construction time.
func WithForwarder(f Forwarder) Option {
	return func(m *Manager) { m.forwarders = append(m.forwarders, f) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces [time.Now] for rate limiting.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager broadcasting through out.
func NewManager(cfg Config, out Broadcaster, opts ...Option) *Manager {
	m := &Manager{
		out:       out,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		now:       time.Now,
		maxLength: cfg.MaxLength,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Limiter returns the rate limiter, for the background sweep.
func (m *Manager) Limiter() *RateLimiter { return m.limiter }

// AddForwarder registers f for subsequently admitted messages.
func (m *Manager) AddForwarder(f Forwarder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarders = append(m.forwarders, f)
}

// SetLimits swaps the admission limits in place.
func (m *Manager) SetLimits(cfg Config) {
	m.mu.Lock()
	m.maxLength = cfg.MaxLength
	m.mu.Unlock()
	m.limiter.SetLimits(cfg.RateLimit, cfg.RateWindow)
}

// HandleMessage runs one chat_message payload through admission. A rejected
// message is answered on o and returned as a [*RejectError].
func (m *Manager) HandleMessage(ctx context.Context, o Origin, payload map[string]any) error {
	rawName, nameOK := payload["username"].(string)
	rawText, textOK := payload[event.KeyText].(string)
	if !nameOK {
		return m.reject(ctx, o, ErrInvalidUsername)
	}
	if !textOK {
		return m.reject(ctx, o, ErrInvalidText)
	}

	username := SanitizeUsername(rawName)
	if username == "" {
		return m.reject(ctx, o, ErrInvalidUsername)
	}
	clean := Clean(rawText)
	if clean == "" {
		return m.reject(ctx, o, ErrInvalidText)
	}

	if !m.limiter.Allow(o.Identity(), m.now()) {
		return m.reject(ctx, o, ErrRateLimited)
	}

	m.mu.RLock()
	maxLength := m.maxLength
	observers := append([]Observer(nil), m.observers...)
	forwarders := append([]Forwarder(nil), m.forwarders...)
	m.mu.RUnlock()
	if maxLength > 0 && utf8.RuneCountInString(clean) > maxLength {
		return m.reject(ctx, o, ErrTooLong)
	}

	// Clients get escaped text; observers and the backend read the clean text.
	text := Escape(clean)
	id := uuid.NewString()
	msg := event.New(event.ChatMessage, map[string]any{
		"id":          id,
		"username":    username,
		"sender":      username,
		event.KeyText: text,
	})
	m.out.Broadcast(ctx, msg)
	m.metrics.RecordChatMessage(ctx, "admitted", "")
	slog.Debug("chat admitted", "id", id, "username", username, "identity", o.Identity())

	for _, obs := range observers {
		obs.ObserveChat(ctx, clean)
	}
	for _, f := range forwarders {
		f.Forward(ctx, msg)
	}
	if m.responder != nil {
		m.responder.Submit(ctx, Request{ID: id, Username: username, Text: clean})
	}
	return nil
}

func (m *Manager) reject(ctx context.Context, o Origin, rej *RejectError) error {
	m.metrics.RecordChatMessage(ctx, "rejected", rej.Code)
	frame, err := event.Encode(event.Rejection(rej.Code, rej.Message))
	if err == nil {
		o.Send(frame)
	}
	slog.Debug("chat rejected", "code", rej.Code, "identity", o.Identity())
	return rej
}
