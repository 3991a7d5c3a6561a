// Package app wires all noxcast subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the synthesis manager,
// broadcaster, router, narrator, chat pipeline and HTTP surface, Run serves
// until the context ends, and Shutdown waits for in-flight work to drain.
//
// For testing, inject test doubles via functional options and the
// [Providers] struct.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/noxcast/internal/broadcast"
	"github.com/MrWong99/noxcast/internal/chat"
	"github.com/MrWong99/noxcast/internal/config"
	"github.com/MrWong99/noxcast/internal/health"
	"github.com/MrWong99/noxcast/internal/narrator"
	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/internal/resilience"
	"github.com/MrWong99/noxcast/internal/router"
	"github.com/MrWong99/noxcast/internal/stream"
	"github.com/MrWong99/noxcast/internal/synth"
	"github.com/MrWong99/noxcast/pkg/provider/llm"
	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

// NamedTTS is one entry of the synthesis chain.
type NamedTTS struct {
	Name     string
	Provider tts.Provider
}

// NamedLLM is one entry of the AI backend chain.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the constructed backends in chain order. Populated by
// main.go via the config registry.
type Providers struct {
	TTS []NamedTTS
	LLM []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	levelVar *slog.LevelVar

	cache     *synth.Cache
	synth     *synth.Manager
	hub       *broadcast.Hub
	router    *router.Router
	narrator  *narrator.Engine
	responder *chat.Responder
	chat      *chat.Manager
	stream    *stream.Server
	handler   http.Handler

	narratorOpts  []narrator.Option
	shutdownGrace time.Duration

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithNarratorOptions passes extra options to the narration engine, such as
// a fixed clock or random source.
func WithNarratorOptions(opts ...narrator.Option) Option {
	return func(a *App) { a.narratorOpts = append(a.narratorOpts, opts...) }
}

// WithShutdownGrace bounds how long Run waits for HTTP handlers once its
// context ends. Default: 10s.
func WithShutdownGrace(d time.Duration) Option {
	return func(a *App) { a.shutdownGrace = d }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, shutdownGrace: 10 * time.Second}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Synthesis ─────────────────────────────────────────────────────
	cache, err := synth.NewCache(cfg.Synthesis.CacheDir, cfg.Server.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("app: open synthesis cache: %w", err)
	}
	a.cache = cache
	a.synth = synth.NewManager(cache, synth.Config{
		ProviderTimeout:     cfg.Synthesis.ProviderTimeout,
		AvailabilityTimeout: cfg.Synthesis.AvailabilityTimeout,
	}, synth.WithMetrics(a.metrics))
	for _, p := range providers.TTS {
		a.synth.AddProvider(p.Name, p.Provider)
	}

	// ── 2. Broadcast + routing ───────────────────────────────────────────
	a.hub = broadcast.NewHub(broadcast.WithMetrics(a.metrics))
	a.router = router.New(a.synth, a.hub, router.WithMetrics(a.metrics))

	// ── 3. Narrator ──────────────────────────────────────────────────────
	n := cfg.Narration
	a.narrator = narrator.New(narrator.Config{
		Disabled:           n.Disabled,
		TickInterval:       n.TickInterval,
		EventCooldownMin:   n.EventCooldownMin,
		EventCooldownMax:   n.EventCooldownMax,
		IdleCooldown:       n.IdleCooldown,
		MaxConsecutiveIdle: n.MaxConsecutiveIdle,
		RapidThreshold:     n.RapidThreshold,
		WindowSize:         n.WindowSize,
	}, a.router, append([]narrator.Option{narrator.WithMetrics(a.metrics)}, a.narratorOpts...)...)
	a.router.AddObserver(a.narrator)

	// ── 4. Chat ──────────────────────────────────────────────────────────
	chatOpts := []chat.Option{chat.WithObserver(a.narrator), chat.WithMetrics(a.metrics)}
	if backend := llmChain(providers.LLM); backend != nil {
		a.responder = chat.NewResponder(backend, chat.NewHistory(cfg.Chat.HistoryTurns), a.router,
			chat.ResponderConfig{
				Timeout:         cfg.Chat.ResponseTimeout,
				SystemPrompt:    cfg.Chat.SystemPrompt,
				FallbackPhrases: cfg.Chat.FallbackPhrases,
			}, chat.WithResponderMetrics(a.metrics))
		chatOpts = append(chatOpts, chat.WithResponder(a.responder))
	} else {
		slog.Warn("no AI backend configured; viewer chat is broadcast but not answered")
	}
	a.chat = chat.NewManager(chatConfig(cfg.Chat.Limits()), a.hub, chatOpts...)

	// ── 5. Transport + HTTP ──────────────────────────────────────────────
	a.stream = stream.New(stream.Config{AgentToken: cfg.Server.AgentToken},
		a.router, a.hub, a.chat, stream.WithMetrics(a.metrics))
	a.chat.AddForwarder(a.stream)

	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "synthesis", Check: a.checkSynthesis},
		health.Checker{Name: "cache", Check: func(context.Context) error { return a.cache.Writable() }},
	).Register(mux)
	a.stream.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("GET "+cache.URLPrefix(), http.StripPrefix(cache.URLPrefix(), audioHandler(cache.Dir())))
	if dir := cfg.Server.PublicDir; dir != "" {
		mux.Handle("GET /", publicHandler(dir))
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	slog.Info("app wired",
		"tts", a.synth.Providers(),
		"llm", len(providers.LLM),
		"narration", !n.Disabled,
	)
	return a, nil
}

func llmChain(entries []NamedLLM) llm.Provider {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) == 1 {
		return entries[0].Provider
	}
	fb := resilience.NewLLMFallback(entries[0].Provider, entries[0].Name, resilience.FallbackConfig{})
	for _, e := range entries[1:] {
		fb.AddFallback(e.Name, e.Provider)
	}
	return fb
}

func chatConfig(l config.ChatLimits) chat.Config {
	return chat.Config{MaxLength: l.MaxLength, RateLimit: l.RateLimit, RateWindow: l.RateWindow}
}

func (a *App) checkSynthesis(ctx context.Context) error {
	if len(a.synth.Providers()) == 0 {
		return errors.New("no synthesis provider configured")
	}
	if !a.synth.Available(ctx) {
		return errors.New("no synthesis provider available")
	}
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the presentation client broadcaster.
func (a *App) Hub() *broadcast.Hub { return a.hub }

// Router returns the event router.
func (a *App) Router() *router.Router { return a.router }

// Narrator returns the narration engine.
func (a *App) Narrator() *narrator.Engine { return a.narrator }

// Run serves HTTP on the configured address and drives the background loops
// until ctx is cancelled. It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// WebSocket handlers live on the request context; ending it closes them.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return a.narrator.Run(gctx) })
	g.Go(func() error { return a.chat.Limiter().Run(gctx, a.cfg.Chat.SweepInterval) })
	g.Go(func() error {
		s := a.cfg.Synthesis
		return a.cache.RunPrune(gctx, s.PruneInterval, s.CacheMaxAge, s.CacheMaxEntries)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig hot-applies the reloadable parts of next. It is the
// [config.Watcher] callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChatLimitsChanged {
		a.chat.SetLimits(chatConfig(d.NewChatLimits))
		slog.Info("chat limits changed",
			"max_length", d.NewChatLimits.MaxLength,
			"rate_limit", d.NewChatLimits.RateLimit,
			"rate_window", d.NewChatLimits.RateWindow,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to apply", "sections", d.RestartRequired)
	}
}

// Shutdown waits for routed events, narrations and chat replies that are
// still in flight. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		done := make(chan struct{})
		go func() {
			defer close(done)
			if a.responder != nil {
				a.responder.Wait()
			}
			a.narrator.Wait()
			a.router.Wait()
		}()
		select {
		case <-done:
			slog.Info("shutdown complete")
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded with work in flight")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}

// SlogLevel maps a config log level to its slog counterpart.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
