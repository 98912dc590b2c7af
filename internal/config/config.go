// Package config provides the configuration schema, loader, and provider
// registry for lingobot.
package config

import (
	"time"

	"github.com/MrWong99/lingobot/internal/kv"
	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/pipeline"
)

// LogLevel controls log verbosity for the lingobot server.
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

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr             = ":8080"
	DefaultShutdownTimeout        = 15 * time.Second
	DefaultLLMProvider            = "openai"
	DefaultReinforcementThreshold = pipeline.DefaultReinforcementThreshold
	DefaultCacheTTL               = pipeline.DefaultCacheTTL
	DefaultNativeLanguage         = learner.DefaultNativeLanguage
)

// Config is the root configuration structure for lingobot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      kv.Config        `yaml:"store"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Tutor      TutorConfig      `yaml:"tutor"`
	Discord    DiscordConfig    `yaml:"discord"`
	WebChat    WebChatConfig    `yaml:"webchat"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the lingobot server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	// It serves /healthz, /readyz, /metrics and the enabled chat endpoints.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the language model backends. LLM is tried first;
// Fallbacks are tried in order when it fails or its circuit is open.
type ProvidersConfig struct {
	LLM       ProviderEntry   `yaml:"llm"`
	Fallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block of one LLM backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Timeout bounds a single completion request. Zero leaves it to the
	// provider.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// ResilienceConfig tunes the circuit breaker placed in front of every LLM
// backend. Zero values select the breaker defaults.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TutorConfig holds correction and practice settings.
type TutorConfig struct {
	// ReinforcementThreshold is how many times a category must be tallied
	// before a focused reminder is shown.
	ReinforcementThreshold int `yaml:"reinforcement_threshold"`

	// CacheTTL is how long a correction stays cached.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DefaultNativeLanguage is assigned to new learners.
	DefaultNativeLanguage string `yaml:"default_native_language"`

	// CorrectionTemperature and PracticeTemperature are sampling
	// temperatures. Zero keeps the built-in defaults.
	CorrectionTemperature float64 `yaml:"correction_temperature"`
	PracticeTemperature   float64 `yaml:"practice_temperature"`

	// MaxTokens caps completion length. Zero leaves it to the provider.
	MaxTokens int `yaml:"max_tokens"`
}

// DiscordConfig enables the Discord transport when Token is set.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the Discord transport should start.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

// WebChatConfig controls the WebSocket chat endpoint at /ws.
type WebChatConfig struct {
	Enabled bool `yaml:"enabled"`

	// OriginPatterns lists accepted browser Origin hosts (e.g.
	// "chat.example.com"). Empty accepts same-origin requests only.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// MCPConfig controls the Model Context Protocol tool server at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}
