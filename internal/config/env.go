package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/MrWong99/lingobot/internal/kv"
)

// Env looks up an environment variable, returning "" when unset.
type Env func(key string) string

// Environment variables read by [ApplyEnv].
const (
	EnvRedisURL       = "REDIS_URL"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvDiscordToken   = "DISCORD_TOKEN"
	EnvBotToken       = "BOT_TOKEN"
	EnvLogLevel       = "LOG_LEVEL"
	EnvListenAddr     = "LISTEN_ADDR"
	EnvNativeLanguage = "DEFAULT_NATIVE_LANGUAGE"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Variables already set are kept. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values from env. A nil env reads the process
// environment.
//
// REDIS_URL selects the redis backend unless a different backend is
// configured explicitly; DATABASE_URL does the same for postgres. When both
// are set and no backend is configured, redis wins. OPENAI_API_KEY only
// applies to openai provider entries that have no key of their own.
// DISCORD_TOKEN takes precedence over BOT_TOKEN.
func ApplyEnv(cfg *Config, env Env) {
	if env == nil {
		env = os.Getenv
	}

	redisURL, dbURL := env(EnvRedisURL), env(EnvDatabaseURL)
	switch strings.ToLower(cfg.Store.Backend) {
	case "":
		switch {
		case redisURL != "":
			cfg.Store.Backend, cfg.Store.URL = kv.BackendRedis, redisURL
		case dbURL != "":
			cfg.Store.Backend, cfg.Store.URL = kv.BackendPostgres, dbURL
		}
	case kv.BackendRedis:
		if redisURL != "" {
			cfg.Store.URL = redisURL
		}
	case kv.BackendPostgres:
		if dbURL != "" {
			cfg.Store.URL = dbURL
		}
	}

	if key := env(EnvOpenAIKey); key != "" {
		applyKey := func(e *ProviderEntry) {
			if (e.Name == "" || e.Name == "openai") && e.APIKey == "" {
				e.APIKey = key
			}
		}
		applyKey(&cfg.Providers.LLM)
		for i := range cfg.Providers.Fallbacks {
			applyKey(&cfg.Providers.Fallbacks[i])
		}
	}

	if tok := env(EnvDiscordToken); tok != "" {
		cfg.Discord.Token = tok
	} else if tok := env(EnvBotToken); tok != "" {
		cfg.Discord.Token = tok
	}

	if v := env(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := env(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := env(EnvNativeLanguage); v != "" {
		cfg.Tutor.DefaultNativeLanguage = v
	}
}
