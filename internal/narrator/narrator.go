// Package narrator gives the presenter a mood and an inner voice.
//
// An [Engine] watches the routed event stream and viewer chat. It keeps a
// window of recent tool calls, tracks success and failure streaks and chat
// sentiment, and derives a [Mood] from them. On each tick it may propose a
// short narration line about what is going on, or about nothing at all when
// things have been quiet for a while. Mood changes and narrations are sent
// back into the pipeline through a [Sink].
package narrator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
)

const (
	chatRateWindow      = time.Minute
	ingestInputRunes    = 120
	narrationInputRunes = 40
	sourceNarrator      = "narrator"
)

// Sink accepts events produced by the engine. The router implements it.
type Sink interface {
	Route(ctx context.Context, e event.Event)
}

// Config tunes an [Engine]. Zero values select the defaults.
type Config struct {
	// Disabled suppresses narration. Mood is still tracked and emitted.
	Disabled bool

	// TickInterval is the [Engine.Run] period. Default: 2s.
	TickInterval time.Duration

	// EventCooldownMin and EventCooldownMax bound the random delay between
	// activity narrations. Default: 20s and 45s.
	EventCooldownMin time.Duration
	EventCooldownMax time.Duration

	// IdleCooldown is the quiet time before an idle narration. Default: 90s.
	IdleCooldown time.Duration

	// MaxConsecutiveIdle caps idle narrations until activity resumes.
	// Default: 3.
	MaxConsecutiveIdle int

	// RapidThreshold is the tool-call count since the last narration that
	// counts as rapid activity. Default: 5.
	RapidThreshold int

	// WindowSize is the activity window capacity. Default: 20.
	WindowSize int
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.EventCooldownMin <= 0 && c.EventCooldownMax <= 0 {
		c.EventCooldownMin, c.EventCooldownMax = 20*time.Second, 45*time.Second
	}
	if c.EventCooldownMax < c.EventCooldownMin {
		c.EventCooldownMax = c.EventCooldownMin
	}
	if c.IdleCooldown <= 0 {
		c.IdleCooldown = 90 * time.Second
	}
	if c.MaxConsecutiveIdle <= 0 {
		c.MaxConsecutiveIdle = 3
	}
	if c.RapidThreshold <= 0 {
		c.RapidThreshold = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
}

// Proposal is one narration chosen by [Engine.Tick].
type Proposal struct {
	Text     string
	Category Category
	Topic    Topic
	Mood     Mood
}

// Engine is the mood and narration state machine. It is safe for
// concurrent use.
type Engine struct {
	cfg       Config
	sink      Sink
	now       func() time.Time
	metrics   *observe.Metrics
	mood      *MoodMachine
	sentiment *Sentiment

	mu            sync.Mutex
	rng           *rand.Rand
	window        *ActivityWindow
	toolCalls     int
	lastFailed    bool
	successStreak int
	failureStreak int
	chats         []time.Time
	lastChat      time.Time
	lastActivity  time.Time
	lastNarration time.Time
	eventReadyAt  time.Time
	idleCount     int
	moodQueue     []event.Event
	moodDraining  bool

	busy atomic.Bool
	wg   sync.WaitGroup
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClock replaces [time.Now].
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source used for cooldowns and line choice.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine that emits through sink.
func New(cfg Config, sink Sink, opts ...Option) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:       cfg,
		sink:      sink,
		now:       time.Now,
		mood:      NewMoodMachine(DefaultThresholds(cfg.RapidThreshold)),
		sentiment: NewSentiment(),
		window:    NewActivityWindow(cfg.WindowSize),
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	start := e.now()
	e.lastChat = start
	e.lastActivity = start
	e.lastNarration = start
	e.eventReadyAt = start.Add(e.cooldownLocked())
	return e
}

// Mood returns the current mood.
func (e *Engine) Mood() Mood { return e.mood.Current() }

// Observe records tool activity from the routed event stream.
func (e *Engine) Observe(ctx context.Context, ev event.Event) {
	now := e.now()
	switch ev.Kind {
	case event.Executing:
		tool, input := toolAndInput(ev.Payload)
		input = truncate(input, ingestInputRunes)
		e.mu.Lock()
		e.window.Add(Activity{Tool: tool, Input: input, At: now})
		e.toolCalls++
		e.touchLocked(now)
		e.mu.Unlock()
	case event.ToolResult:
		failed := Failed(ev.Payload)
		e.mu.Lock()
		if failed {
			e.failureStreak++
			e.successStreak = 0
		} else {
			e.successStreak++
			e.failureStreak = 0
		}
		e.lastFailed = failed
		e.touchLocked(now)
		e.mu.Unlock()
	default:
		return
	}
	e.evaluate(ctx, now)
}

// ObserveChat records one admitted viewer message.
func (e *Engine) ObserveChat(ctx context.Context, text string) {
	now := e.now()
	e.sentiment.Add(text, now)
	e.mu.Lock()
	e.chats = append(pruneBefore(e.chats, now.Add(-chatRateWindow)), now)
	e.lastChat = now
	e.touchLocked(now)
	e.mu.Unlock()
	e.evaluate(ctx, now)
}

func (e *Engine) touchLocked(now time.Time) {
	e.lastActivity = now
	e.idleCount = 0
}

// Tick re-evaluates the mood and, when a cooldown has elapsed, routes a
// narration. It returns the narration it produced, if any.
func (e *Engine) Tick(ctx context.Context, now time.Time) (Proposal, bool) {
	mood := e.evaluate(ctx, now)
	if e.cfg.Disabled || !e.busy.CompareAndSwap(false, true) {
		return Proposal{}, false
	}

	e.mu.Lock()
	p, ok := e.proposeLocked(now, mood)
	e.mu.Unlock()
	if !ok {
		e.busy.Store(false)
		return Proposal{}, false
	}

	e.metrics.RecordNarration(ctx, string(p.Category))
	slog.Debug("narrating", "category", p.Category, "topic", p.Topic, "mood", p.Mood)
	ev := event.Event{
		Kind:      event.Narrate,
		Timestamp: now,
		Payload: map[string]any{
			event.KeyText: p.Text,
			"source":      sourceNarrator,
			"category":    string(p.Category),
		},
	}
	rctx := context.WithoutCancel(ctx)
	e.wg.Go(func() {
		defer e.busy.Store(false)
		e.sink.Route(rctx, ev)
	})
	return p, true
}

func (e *Engine) proposeLocked(now time.Time, mood Mood) (Proposal, bool) {
	pending := e.window.Len() > 0 || e.toolCalls > 0 || e.lastFailed
	var p Proposal
	switch {
	case pending:
		if now.Before(e.eventReadyAt) {
			return Proposal{}, false
		}
		p = e.selectLocked(mood)
	default:
		if e.idleCount >= e.cfg.MaxConsecutiveIdle {
			return Proposal{}, false
		}
		quietSince := e.lastActivity
		if e.lastNarration.After(quietSince) {
			quietSince = e.lastNarration
		}
		if now.Sub(quietSince) < e.cfg.IdleCooldown {
			return Proposal{}, false
		}
		p = Proposal{Text: e.pickLocked(idleLines[mood]), Category: CategoryIdle}
		e.idleCount++
	}
	p.Mood = mood

	e.window.Clear()
	e.toolCalls = 0
	e.lastFailed = false
	e.lastNarration = now
	e.eventReadyAt = now.Add(e.cooldownLocked())
	return p, true
}

func (e *Engine) selectLocked(mood Mood) Proposal {
	switch {
	case e.toolCalls >= e.cfg.RapidThreshold:
		return Proposal{Text: e.pickLocked(rapidLines), Category: CategoryRapid}
	case e.lastFailed:
		return Proposal{Text: e.pickLocked(errorLines), Category: CategoryError}
	}
	if topic, input, ok := e.window.Dominant(); ok {
		line := fill(e.pickLocked(topicLines[topic]), input)
		return Proposal{Text: line, Category: CategoryTopic, Topic: topic}
	}
	return Proposal{Text: e.pickLocked(idleLines[mood]), Category: CategoryIdle}
}

func (e *Engine) pickLocked(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[e.rng.IntN(len(lines))]
}

func (e *Engine) cooldownLocked() time.Duration {
	span := e.cfg.EventCooldownMax - e.cfg.EventCooldownMin
	if span <= 0 {
		return e.cfg.EventCooldownMin
	}
	return e.cfg.EventCooldownMin + time.Duration(e.rng.Int64N(int64(span)+1))
}

// evaluate moves the mood machine and emits a mood event on change. The
// snapshot and the transition happen under one lock, and changes are queued
// so they reach the sink in the order they were decided.
func (e *Engine) evaluate(ctx context.Context, now time.Time) Mood {
	compliments, insults := e.sentiment.Scores(now)
	e.mu.Lock()
	e.chats = pruneBefore(e.chats, now.Add(-chatRateWindow))
	s := Signals{
		ChatPerMinute: float64(len(e.chats)) * float64(time.Minute) / float64(chatRateWindow),
		Compliments:   compliments,
		Insults:       insults,
		FailureStreak: e.failureStreak,
		SuccessStreak: e.successStreak,
		ToolCalls:     e.toolCalls,
		WindowEmpty:   e.window.Len() == 0,
		SinceChat:     now.Sub(e.lastChat),
	}
	mood, previous, changed := e.mood.Evaluate(s)
	if !changed {
		e.mu.Unlock()
		return mood
	}
	e.moodQueue = append(e.moodQueue, event.Event{
		Kind:      event.Mood,
		Timestamp: now,
		Payload:   map[string]any{"mood": string(mood), "previous": string(previous)},
	})
	start := !e.moodDraining
	e.moodDraining = true
	e.mu.Unlock()

	e.metrics.RecordMoodChange(ctx, string(mood))
	slog.Info("mood changed", "mood", mood, "previous", previous)
	if start {
		rctx := context.WithoutCancel(ctx)
		e.wg.Go(func() { e.drainMoods(rctx) })
	}
	return mood
}

// drainMoods routes queued mood events one at a time until the queue is
// empty. Only one drainer runs at a time.
func (e *Engine) drainMoods(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.moodQueue) == 0 {
			e.moodDraining = false
			e.mu.Unlock()
			return
		}
		ev := e.moodQueue[0]
		e.moodQueue = e.moodQueue[1:]
		e.mu.Unlock()
		e.sink.Route(ctx, ev)
	}
}

// Run ticks the engine every TickInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx, e.now())
		}
	}
}

// Wait blocks until every event the engine handed to the sink has been
// routed.
func (e *Engine) Wait() { e.wg.Wait() }

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// toolAndInput reads an executing payload. Bridges send either
// {command: <tool>, input} or {tool, command: <command line>}.
func toolAndInput(payload map[string]any) (tool, input string) {
	input = stringValue(payload["input"])
	if tool = firstString(payload, "tool"); tool != "" {
		if input == "" {
			input = firstString(payload, "command")
		}
		return tool, input
	}
	return firstString(payload, "command", "name"), input
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
