// Package config provides the configuration schema, loader, and provider
// registry for the noxcast presenter server.
package config

import "time"

// LogLevel controls log verbosity for the noxcast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for noxcast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Providers ProvidersConfig `yaml:"providers"`
	Chat      ChatConfig      `yaml:"chat"`
	Narration NarrationConfig `yaml:"narration"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3200").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AgentToken, when set, must be presented by the agent bridge as a
	// bearer token or ?token= query parameter.
	AgentToken string `yaml:"agent_token"`

	// PublicDir is an optional directory of presentation client assets
	// served at "/".
	PublicDir string `yaml:"public_dir"`

	// AudioPath is the URL prefix cached artifacts are served under.
	AudioPath string `yaml:"audio_path"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SynthesisConfig tunes the synthesis manager and its artifact cache.
type SynthesisConfig struct {
	// CacheDir holds synthesized artifacts and their sidecars.
	CacheDir string `yaml:"cache_dir"`

	// ProviderTimeout bounds each provider attempt.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// AvailabilityTimeout bounds the one-time availability probe.
	AvailabilityTimeout time.Duration `yaml:"availability_timeout"`

	// CacheMaxAge expires artifacts older than this. Zero keeps them forever.
	CacheMaxAge time.Duration `yaml:"cache_max_age"`

	// CacheMaxEntries caps the number of cached artifacts. Zero disables the cap.
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// PruneInterval is how often eviction runs. Zero disables pruning.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// ProvidersConfig declares the provider chains. TTS entries form the
// synthesis fallback chain in declared order; LLM entries form the chat
// backend chain, the first being primary.
type ProvidersConfig struct {
	TTS []ProviderEntry `yaml:"tts"`
	LLM []ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "kokoro", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g., voice_id, speaker, language).
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a non-empty string.
func (e ProviderEntry) OptionString(key string) string {
	if s, ok := e.Options[key].(string); ok {
		return s
	}
	return ""
}

// ChatConfig tunes viewer chat admission and the AI responder.
type ChatConfig struct {
	// MaxLength is the maximum sanitized message length in runes.
	MaxLength int `yaml:"max_length"`

	// RateLimit is how many messages one identity may send per RateWindow.
	RateLimit int `yaml:"rate_limit"`

	// RateWindow is the fixed rate-limit window.
	RateWindow time.Duration `yaml:"rate_window"`

	// SweepInterval is how often expired rate-limit entries are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// HistoryTurns is how many viewer/presenter turn pairs are kept as AI context.
	HistoryTurns int `yaml:"history_turns"`

	// ResponseTimeout bounds one AI backend call.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// SystemPrompt is the presenter persona sent to the AI backend.
	SystemPrompt string `yaml:"system_prompt"`

	// FallbackPhrases are spoken when the AI backend fails.
	FallbackPhrases []string `yaml:"fallback_phrases"`
}

// NarrationConfig tunes the mood and narration engine.
type NarrationConfig struct {
	// Disabled turns autonomous narration off. Mood tracking still runs.
	Disabled bool `yaml:"disabled"`

	// TickInterval is how often idle narration and mood decay are evaluated.
	TickInterval time.Duration `yaml:"tick_interval"`

	// EventCooldownMin and EventCooldownMax bound the random delay between
	// activity narrations.
	EventCooldownMin time.Duration `yaml:"event_cooldown_min"`
	EventCooldownMax time.Duration `yaml:"event_cooldown_max"`

	// IdleCooldown is the quiet time before an idle narration.
	IdleCooldown time.Duration `yaml:"idle_cooldown"`

	// MaxConsecutiveIdle caps idle narrations until real activity resumes.
	MaxConsecutiveIdle int `yaml:"max_consecutive_idle"`

	// RapidThreshold is the tool-call count that counts as rapid activity.
	RapidThreshold int `yaml:"rapid_threshold"`

	// WindowSize is the capacity of the recent activity window.
	WindowSize int `yaml:"window_size"`
}

// Default values applied before the YAML document is decoded.
const (
	DefaultListenAddr      = ":3200"
	DefaultAudioPath       = "/audio/"
	DefaultCacheDir        = "/tmp/nox-tts"
	DefaultKokoroURL       = "http://localhost:3202"
	DefaultGatewayURL      = "http://127.0.0.1:18789"
	DefaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
)

// Default returns a configuration with every default filled in. The default
// synthesis chain is kokoro, elevenlabs, gateway.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
			AudioPath:  DefaultAudioPath,
		},
		Synthesis: SynthesisConfig{
			CacheDir:            DefaultCacheDir,
			ProviderTimeout:     15 * time.Second,
			AvailabilityTimeout: 3 * time.Second,
			CacheMaxAge:         7 * 24 * time.Hour,
			PruneInterval:       time.Hour,
		},
		Providers: ProvidersConfig{
			TTS: []ProviderEntry{
				{Name: "kokoro", BaseURL: DefaultKokoroURL},
				{Name: "elevenlabs", Options: map[string]any{"voice_id": DefaultElevenLabsVoice}},
				{Name: "gateway", BaseURL: DefaultGatewayURL},
			},
		},
		Chat: ChatConfig{
			MaxLength:       280,
			RateLimit:       3,
			RateWindow:      10 * time.Second,
			SweepInterval:   time.Minute,
			HistoryTurns:    10,
			ResponseTimeout: 20 * time.Second,
		},
		Narration: NarrationConfig{
			TickInterval:       2 * time.Second,
			EventCooldownMin:   20 * time.Second,
			EventCooldownMax:   45 * time.Second,
			IdleCooldown:       90 * time.Second,
			MaxConsecutiveIdle: 3,
			RapidThreshold:     5,
			WindowSize:         20,
		},
	}
}
