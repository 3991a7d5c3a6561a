// Command noxcast is the main entry point for the noxcast presenter server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/noxcast/internal/app"
	"github.com/MrWong99/noxcast/internal/config"
	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/provider/llm"
	"github.com/MrWong99/noxcast/pkg/provider/llm/anyllm"
	"github.com/MrWong99/noxcast/pkg/provider/llm/openai"
	"github.com/MrWong99/noxcast/pkg/provider/tts"
	"github.com/MrWong99/noxcast/pkg/provider/tts/coqui"
	"github.com/MrWong99/noxcast/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/noxcast/pkg/provider/tts/gateway"
	"github.com/MrWong99/noxcast/pkg/provider/tts/kokoro"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: defaults plus environment)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	watch := flag.Bool("watch", true, "reload log level and chat limits when the config file changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "noxcast: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "noxcast: config file %q not found; run without -config to start from defaults\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "noxcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("noxcast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "noxcast",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers := buildProviders(cfg, reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload (optional) ──────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithEnv(os.LookupEnv))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []kokoro.Option
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, kokoro.WithVoice(voice))
		}
		if speed, ok := optFloat(entry.Options, "speed"); ok {
			opts = append(opts, kokoro.WithSpeed(speed))
		}
		return kokoro.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.OptionString("voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("gateway", func(entry config.ProviderEntry) (tts.Provider, error) {
		return gateway.New(entry.BaseURL, entry.APIKey)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := entry.OptionString("speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := entry.OptionString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile and
	// ollama all go through any-llm: optional APIKey + optional BaseURL.
	for _, vendor := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every chain entry in cfg. Entries that cannot
// be constructed (usually a missing API key) are skipped with a warning so
// the rest of the chain still serves.
func buildProviders(cfg *config.Config, reg *config.Registry) *app.Providers {
	ps := &app.Providers{}

	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			logSkipped("tts", entry.Name, err)
			continue
		}
		ps.TTS = append(ps.TTS, app.NamedTTS{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			logSkipped("llm", entry.Name, err)
			continue
		}
		ps.LLM = append(ps.LLM, app.NamedLLM{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}

	return ps
}

func logSkipped(kind, name string, err error) {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", name)
		return
	}
	slog.Warn("provider not usable, skipping", "kind", kind, "name", name, "err", err)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         noxcast · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if len(ps.TTS) == 0 {
		printRow("TTS", "(not configured)")
	}
	for i, p := range ps.TTS {
		printRow("TTS #"+strconv.Itoa(i+1), p.Name)
	}
	if len(ps.LLM) == 0 {
		printRow("LLM", "(not configured)")
	}
	for i, p := range ps.LLM {
		printRow("LLM #"+strconv.Itoa(i+1), p.Name)
	}
	narration := "enabled"
	if cfg.Narration.Disabled {
		narration = "(disabled)"
	}
	printRow("Narration", narration)
	agentAuth := "token"
	if cfg.Server.AgentToken == "" {
		agentAuth = "(open)"
	}
	printRow("Agent auth", agentAuth)
	printRow("Cache dir", cfg.Synthesis.CacheDir)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	r := []rune(value)
	if len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optFloat extracts a numeric value from a provider Options map. YAML may
// decode numbers as int or float64.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
