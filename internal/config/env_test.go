package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/lingobot/internal/config"
	"github.com/MrWong99/lingobot/internal/kv"
)

func TestApplyEnv_Store(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		store       kv.Config
		env         map[string]string
		wantBackend string
		wantURL     string
	}{
		{
			name:        "redis url selects redis",
			env:         map[string]string{config.EnvRedisURL: "redis://r"},
			wantBackend: kv.BackendRedis,
			wantURL:     "redis://r",
		},
		{
			name:        "database url selects postgres",
			env:         map[string]string{config.EnvDatabaseURL: "postgres://p"},
			wantBackend: kv.BackendPostgres,
			wantURL:     "postgres://p",
		},
		{
			name:        "redis wins when both are set",
			env:         map[string]string{config.EnvRedisURL: "redis://r", config.EnvDatabaseURL: "postgres://p"},
			wantBackend: kv.BackendRedis,
			wantURL:     "redis://r",
		},
		{
			name:        "explicit postgres reads database url",
			store:       kv.Config{Backend: kv.BackendPostgres, URL: "postgres://file"},
			env:         map[string]string{config.EnvRedisURL: "redis://r", config.EnvDatabaseURL: "postgres://p"},
			wantBackend: kv.BackendPostgres,
			wantURL:     "postgres://p",
		},
		{
			name:        "explicit redis overrides file url",
			store:       kv.Config{Backend: kv.BackendRedis, URL: "redis://file"},
			env:         map[string]string{config.EnvRedisURL: "redis://env"},
			wantBackend: kv.BackendRedis,
			wantURL:     "redis://env",
		},
		{
			name:        "memory ignores urls",
			store:       kv.Config{Backend: kv.BackendMemory},
			env:         map[string]string{config.EnvRedisURL: "redis://r"},
			wantBackend: kv.BackendMemory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Store: tt.store}
			config.ApplyEnv(cfg, envMap(tt.env))
			if cfg.Store.Backend != tt.wantBackend {
				t.Errorf("backend: got %q, want %q", cfg.Store.Backend, tt.wantBackend)
			}
			if cfg.Store.URL != tt.wantURL {
				t.Errorf("url: got %q, want %q", cfg.Store.URL, tt.wantURL)
			}
		})
	}
}

func TestApplyEnv_OpenAIKey(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{
		Fallbacks: []config.ProviderEntry{
			{Name: "openai", APIKey: "sk-own"},
			{Name: "anthropic"},
			{Name: "openai"},
		},
	}}
	config.ApplyEnv(cfg, envMap(map[string]string{config.EnvOpenAIKey: "sk-env"}))

	if cfg.Providers.LLM.APIKey != "sk-env" {
		t.Errorf("llm.api_key: got %q, want %q", cfg.Providers.LLM.APIKey, "sk-env")
	}
	want := []string{"sk-own", "", "sk-env"}
	for i, w := range want {
		if got := cfg.Providers.Fallbacks[i].APIKey; got != w {
			t.Errorf("fallbacks[%d].api_key: got %q, want %q", i, got, w)
		}
	}
}

func TestApplyEnv_DiscordToken(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "discord token", env: map[string]string{config.EnvDiscordToken: "d"}, want: "d"},
		{name: "bot token alias", env: map[string]string{config.EnvBotToken: "b"}, want: "b"},
		{name: "discord token wins", env: map[string]string{config.EnvDiscordToken: "d", config.EnvBotToken: "b"}, want: "d"},
		{name: "keeps file value", env: map[string]string{}, want: "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Discord: config.DiscordConfig{Token: "file"}}
			config.ApplyEnv(cfg, envMap(tt.env))
			if cfg.Discord.Token != tt.want {
				t.Errorf("token: got %q, want %q", cfg.Discord.Token, tt.want)
			}
		})
	}
}

func TestApplyEnv_Server(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyEnv(cfg, envMap(map[string]string{
		config.EnvLogLevel:       "DEBUG",
		config.EnvListenAddr:     ":7000",
		config.EnvNativeLanguage: "French",
	}))
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Tutor.DefaultNativeLanguage != "French" {
		t.Errorf("default_native_language: got %q", cfg.Tutor.DefaultNativeLanguage)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "LINGOBOT_DOTENV_TEST"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(key, "")
	os.Unsetenv(key)

	if err := config.LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s: got %q, want %q", key, got, "from-file")
	}
}
