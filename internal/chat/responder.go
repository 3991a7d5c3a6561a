package chat

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
	"github.com/MrWong99/noxcast/pkg/provider/llm"
)

// DefaultSystemPrompt is the presenter persona used when none is configured.
const DefaultSystemPrompt = "You are Nox, a cheerful virtual presenter streaming live while an AI agent works. " +
	"Answer viewer chat in one or two short spoken sentences. No markdown, no lists, no emoji."

// DefaultFallbackPhrases are spoken when the AI backend fails.
var DefaultFallbackPhrases = []string{
	"Sorry, my brain just hiccuped. Ask me again?",
	"Hmm, I lost my train of thought there.",
	"Give me a second, I'm a little distracted right now.",
}

var errEmptyReply = errors.New("chat: backend returned an empty reply")

// Sink accepts the events a [Responder] produces. The router implements it.
type Sink interface {
	Route(ctx context.Context, e event.Event)
}

// Request is one admitted viewer message waiting for a reply.
type Request struct {
	ID       string
	Username string
	Text     string
}

// ResponderConfig tunes a [Responder]. Zero values select the defaults.
type ResponderConfig struct {
	// Timeout bounds one backend call. Default: 20s.
	Timeout time.Duration

	// SystemPrompt is the presenter persona. Default: [DefaultSystemPrompt].
	SystemPrompt string

	// FallbackPhrases replace the reply when the backend fails.
	// Default: [DefaultFallbackPhrases].
	FallbackPhrases []string
}

// Responder answers viewer chat with one backend call at a time. Messages
// submitted while a call is in flight coalesce: only the latest is answered
// when the call finishes.
type Responder struct {
	provider llm.Provider
	history  *History
	sink     Sink
	cfg      ResponderConfig
	metrics  *observe.Metrics

	mu      sync.Mutex
	busy    bool
	pending *Request

	wg sync.WaitGroup
}

// ResponderOption configures a [Responder].
type ResponderOption func(*Responder)

// WithResponderMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithResponderMetrics(m *observe.Metrics) ResponderOption {
	return func(r *Responder) { r.metrics = m }
}

// NewResponder creates a Responder calling provider and emitting to sink.
func NewResponder(provider llm.Provider, history *History, sink Sink, cfg ResponderConfig, opts ...ResponderOption) *Responder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if len(cfg.FallbackPhrases) == 0 {
		cfg.FallbackPhrases = DefaultFallbackPhrases
	}
	if history == nil {
		history = NewHistory(0)
	}
	r := &Responder{provider: provider, history: history, sink: sink, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// History returns the conversation history.
func (r *Responder) History() *History { return r.history }

// Submit queues req without blocking. If a call is in flight, req replaces
// any message already waiting.
func (r *Responder) Submit(ctx context.Context, req Request) {
	r.mu.Lock()
	if r.busy {
		r.pending = &req
		r.mu.Unlock()
		return
	}
	r.busy = true
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	r.wg.Go(func() { r.drain(ctx, req) })
}

func (r *Responder) drain(ctx context.Context, req Request) {
	for {
		r.respond(ctx, req)

		r.mu.Lock()
		if r.pending == nil {
			r.busy = false
			r.mu.Unlock()
			return
		}
		req = *r.pending
		r.pending = nil
		r.mu.Unlock()
	}
}

func (r *Responder) respond(ctx context.Context, req Request) {
	ctx, span := observe.StartSpan(ctx, "chat.respond")
	defer span.End()

	reply, err := r.complete(ctx, req)
	if err != nil {
		observe.Logger(ctx).Warn("chat reply failed, using fallback", "err", err, "username", req.Username)
		reply = r.cfg.FallbackPhrases[rand.IntN(len(r.cfg.FallbackPhrases))]
	} else {
		r.history.Append(
			Turn{Name: req.Username, Text: req.Text},
			Turn{Text: reply},
		)
	}

	now := time.Now()
	r.sink.Route(ctx, event.Event{
		Kind:      event.ChatResponse,
		Timestamp: now,
		Payload: map[string]any{
			event.KeyText: reply,
			"replyTo":     req.Username,
			"inReplyTo":   req.ID,
		},
	})
	r.sink.Route(ctx, event.Event{
		Kind:      event.Narrate,
		Timestamp: now,
		Payload:   map[string]any{event.KeyText: reply, "source": "chat"},
	})
}

func (r *Responder) complete(ctx context.Context, req Request) (string, error) {
	if r.provider == nil {
		return "", errors.New("chat: no AI backend configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	msgs := append(r.history.Messages(), llm.Message{Role: llm.RoleUser, Content: req.Text, Name: req.Username})
	start := time.Now()
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: r.cfg.SystemPrompt,
	})
	r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errEmptyReply
	}
	if err != nil {
		r.metrics.RecordProviderError(ctx, "chat", "llm")
		r.metrics.RecordProviderRequest(ctx, "chat", "llm", "error")
		return "", err
	}
	r.metrics.RecordProviderRequest(ctx, "chat", "llm", "ok")
	return strings.TrimSpace(resp.Content), nil
}

// Wait blocks until no reply is in flight.
func (r *Responder) Wait() { r.wg.Wait() }
