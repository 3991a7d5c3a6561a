package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"kokoro", "elevenlabs", "gateway", "coqui"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. An empty path skips the file
// and starts from [Default].
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		cfg, err = decode(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// LookupFunc is the signature of [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the deployment environment variables onto cfg. Provider
// variables update the matching named entry, appending it when absent.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	var errs []error
	atoi := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}

	if v, ok := get("PORT"); ok {
		cfg.Server.ListenAddr = ":" + v
	}
	if v, ok := get("NOX_SECRET"); ok {
		cfg.Server.AgentToken = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := get("TTS_CACHE_DIR"); ok {
		cfg.Synthesis.CacheDir = v
	}

	if v, ok := get("KOKORO_URL"); ok {
		ttsEntry(cfg, "kokoro").BaseURL = v
	}
	if v, ok := get("ELEVENLABS_KEY"); ok {
		ttsEntry(cfg, "elevenlabs").APIKey = v
	}
	if v, ok := get("ELEVENLABS_VOICE_ID"); ok {
		setOption(ttsEntry(cfg, "elevenlabs"), "voice_id", v)
	}
	if v, ok := get("GATEWAY_URL"); ok {
		ttsEntry(cfg, "gateway").BaseURL = v
	}
	if v, ok := get("GATEWAY_TOKEN"); ok {
		ttsEntry(cfg, "gateway").APIKey = v
	}

	atoi("CHAT_MAX_LENGTH", &cfg.Chat.MaxLength)
	atoi("CHAT_RATE_LIMIT", &cfg.Chat.RateLimit)
	var windowMS int
	atoi("CHAT_RATE_WINDOW_MS", &windowMS)
	if windowMS > 0 {
		cfg.Chat.RateWindow = time.Duration(windowMS) * time.Millisecond
	}

	llmVars := map[string]*string{}
	for _, key := range []string{"LLM_PROVIDER", "LLM_MODEL", "LLM_API_KEY", "LLM_BASE_URL"} {
		if v, ok := get(key); ok {
			llmVars[key] = &v
		}
	}
	if len(llmVars) > 0 {
		if len(cfg.Providers.LLM) == 0 {
			cfg.Providers.LLM = append(cfg.Providers.LLM, ProviderEntry{Name: "openai"})
		}
		primary := &cfg.Providers.LLM[0]
		for key, dst := range map[string]*string{
			"LLM_PROVIDER": &primary.Name,
			"LLM_MODEL":    &primary.Model,
			"LLM_API_KEY":  &primary.APIKey,
			"LLM_BASE_URL": &primary.BaseURL,
		} {
			if v, ok := llmVars[key]; ok {
				*dst = *v
			}
		}
	}

	return errors.Join(errs...)
}

func ttsEntry(cfg *Config, name string) *ProviderEntry {
	for i := range cfg.Providers.TTS {
		if cfg.Providers.TTS[i].Name == name {
			return &cfg.Providers.TTS[i]
		}
	}
	cfg.Providers.TTS = append(cfg.Providers.TTS, ProviderEntry{Name: name})
	return &cfg.Providers.TTS[len(cfg.Providers.TTS)-1]
}

func setOption(e *ProviderEntry, key string, value any) {
	if e.Options == nil {
		e.Options = make(map[string]any)
	}
	e.Options[key] = value
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.AgentToken == "" {
		slog.Warn("server.agent_token is empty; the agent ingress accepts unauthenticated connections")
	}

	// Synthesis
	if cfg.Synthesis.CacheDir == "" {
		errs = append(errs, errors.New("synthesis.cache_dir is required"))
	}
	for name, d := range map[string]time.Duration{
		"synthesis.provider_timeout":     cfg.Synthesis.ProviderTimeout,
		"synthesis.availability_timeout": cfg.Synthesis.AvailabilityTimeout,
		"synthesis.cache_max_age":        cfg.Synthesis.CacheMaxAge,
		"synthesis.prune_interval":       cfg.Synthesis.PruneInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Synthesis.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("synthesis.cache_max_entries must not be negative"))
	}

	// Providers
	seen := make(map[string]int, len(cfg.Providers.TTS))
	for i, e := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("providers.tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.tts[%d]", prefix, e.Name, prev))
		}
		seen[e.Name] = i
		validateProviderName("tts", e.Name)
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("no TTS provider configured; speaking and narrate events will carry no audio")
	}
	for i, e := range cfg.Providers.LLM {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm[%d].name is required", i))
			continue
		}
		validateProviderName("llm", e.Name)
	}

	// Chat
	if cfg.Chat.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_length %d must be positive", cfg.Chat.MaxLength))
	}
	if cfg.Chat.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("chat.rate_limit %d must be positive", cfg.Chat.RateLimit))
	}
	if cfg.Chat.RateWindow <= 0 {
		errs = append(errs, errors.New("chat.rate_window must be positive"))
	}
	if cfg.Chat.HistoryTurns < 0 {
		errs = append(errs, errors.New("chat.history_turns must not be negative"))
	}

	// Narration
	n := cfg.Narration
	if n.EventCooldownMin < 0 || n.EventCooldownMax < n.EventCooldownMin {
		errs = append(errs, fmt.Errorf("narration.event_cooldown_min %s / max %s must satisfy 0 <= min <= max", n.EventCooldownMin, n.EventCooldownMax))
	}
	if n.TickInterval <= 0 {
		errs = append(errs, errors.New("narration.tick_interval must be positive"))
	}
	if n.MaxConsecutiveIdle < 0 {
		errs = append(errs, errors.New("narration.max_consecutive_idle must not be negative"))
	}
	if n.RapidThreshold <= 0 {
		errs = append(errs, errors.New("narration.rapid_threshold must be positive"))
	}
	if n.WindowSize <= 0 {
		errs = append(errs, errors.New("narration.window_size must be positive"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
