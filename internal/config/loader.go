package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lingobot/internal/kv"
)

// KnownLLMProviders lists the LLM provider names shipped with lingobot.
// Used by [Validate] to warn about unrecognised provider names.
var KnownLLMProviders = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path, applies environment
// overrides from env and defaults, and returns a validated [Config]. An empty
// path skips the file so the configuration comes from env and defaults only.
// A nil env reads the process environment.
func Load(path string, env Env) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""), env)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, env)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies env overrides and
// defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader, env Env) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, env)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = kv.BackendRedis
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
	}
	if cfg.Tutor.ReinforcementThreshold == 0 {
		cfg.Tutor.ReinforcementThreshold = DefaultReinforcementThreshold
	}
	if cfg.Tutor.CacheTTL == 0 {
		cfg.Tutor.CacheTTL = DefaultCacheTTL
	}
	if cfg.Tutor.DefaultNativeLanguage == "" {
		cfg.Tutor.DefaultNativeLanguage = DefaultNativeLanguage
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Store
	switch strings.ToLower(cfg.Store.Backend) {
	case "", kv.BackendRedis, kv.BackendPostgres:
		if cfg.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url: %w (set REDIS_URL or DATABASE_URL)", kv.ErrNoEndpoint))
		}
	case kv.BackendMemory:
		slog.Warn("store.backend is memory; learner data is lost on restart")
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: redis, postgres, memory", cfg.Store.Backend))
	}

	// Providers
	entries := append([]ProviderEntry{cfg.Providers.LLM}, cfg.Providers.Fallbacks...)
	for i, entry := range entries {
		prefix := "providers.llm"
		if i > 0 {
			prefix = fmt.Sprintf("providers.llm_fallbacks[%d]", i-1)
		}
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(entry.Name)
		if entry.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, entry.Timeout))
		}
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Tutor
	if cfg.Tutor.ReinforcementThreshold < 0 {
		errs = append(errs, fmt.Errorf("tutor.reinforcement_threshold %d must be positive", cfg.Tutor.ReinforcementThreshold))
	}
	if cfg.Tutor.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("tutor.cache_ttl %s must not be negative", cfg.Tutor.CacheTTL))
	}
	for name, temp := range map[string]float64{
		"correction_temperature": cfg.Tutor.CorrectionTemperature,
		"practice_temperature":   cfg.Tutor.PracticeTemperature,
	} {
		if temp < 0 || temp > 2 {
			errs = append(errs, fmt.Errorf("tutor.%s %.2f is out of range [0, 2]", name, temp))
		}
	}
	if cfg.Tutor.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tutor.max_tokens %d must not be negative", cfg.Tutor.MaxTokens))
	}

	// Transports
	if !cfg.Discord.Enabled() && !cfg.WebChat.Enabled && !cfg.MCP.Enabled {
		slog.Warn("no chat transport enabled; set discord.token or enable webchat or mcp")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not one of the
// [KnownLLMProviders].
func validateProviderName(name string) {
	if slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", "llm",
		"name", name,
		"known", KnownLLMProviders,
	)
}
