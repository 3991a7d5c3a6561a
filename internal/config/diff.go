package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ChatLimitsChanged bool
	NewChatLimits     ChatLimits

	// RestartRequired lists top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// ChatLimits is the hot-reloadable subset of [ChatConfig].
type ChatLimits struct {
	MaxLength  int
	RateLimit  int
	RateWindow time.Duration
}

// Limits extracts the hot-reloadable chat limits.
func (c ChatConfig) Limits() ChatLimits {
	return ChatLimits{MaxLength: c.MaxLength, RateLimit: c.RateLimit, RateWindow: c.RateWindow}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if ol, nl := old.Chat.Limits(), new.Chat.Limits(); ol != nl {
		d.ChatLimitsChanged = true
		d.NewChatLimits = nl
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !serverEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Synthesis != new.Synthesis {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Narration != new.Narration {
		d.RestartRequired = append(d.RestartRequired, "narration")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	if a.TLS != nil && *a.TLS != *b.TLS {
		return false
	}
	a.TLS, b.TLS = nil, nil
	return a == b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entriesEqual(a.TTS, b.TTS) && entriesEqual(a.LLM, b.LLM)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Name != y.Name || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL || x.Model != y.Model {
			return false
		}
		if (len(x.Options) > 0 || len(y.Options) > 0) && !reflect.DeepEqual(x.Options, y.Options) {
			return false
		}
	}
	return true
}
