package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/lingobot/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "server.tls",
		},
		{
			name: "negative shutdown timeout",
			yaml: "server:\n  shutdown_timeout: -1s\n",
			want: "shutdown_timeout",
		},
		{
			name: "unknown store backend",
			yaml: "store:\n  backend: sqlite\n",
			want: "store.backend",
		},
		{
			name: "postgres without url",
			yaml: "store:\n  backend: postgres\n",
			want: "store.url",
		},
		{
			name: "fallback without name",
			yaml: "providers:\n  llm_fallbacks:\n    - model: x\n",
			want: "providers.llm_fallbacks[0].name",
		},
		{
			name: "negative provider timeout",
			yaml: "providers:\n  llm:\n    timeout: -5s\n",
			want: "providers.llm.timeout",
		},
		{
			name: "negative resilience",
			yaml: "resilience:\n  max_failures: -1\n",
			want: "resilience",
		},
		{
			name: "negative threshold",
			yaml: "tutor:\n  reinforcement_threshold: -2\n",
			want: "reinforcement_threshold",
		},
		{
			name: "temperature out of range",
			yaml: "tutor:\n  practice_temperature: 2.5\n",
			want: "practice_temperature",
		},
		{
			name: "negative max tokens",
			yaml: "tutor:\n  max_tokens: -1\n",
			want: "max_tokens",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			yaml := tt.yaml
			if !strings.Contains(yaml, "store:") {
				yaml += "store:\n  backend: memory\n"
			}
			_, err := config.LoadFromReader(strings.NewReader(yaml), noEnv)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
store:
  backend: sqlite
`
	_, err := config.LoadFromReader(strings.NewReader(yaml), noEnv)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "store.backend"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsWarning(t *testing.T) {
	t.Parallel()
	yaml := `
store:
  backend: memory
providers:
  llm:
    name: my-private-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml), noEnv); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestKnownLLMProviders(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.KnownLLMProviders, config.DefaultLLMProvider) {
		t.Errorf("KnownLLMProviders should contain the default %q", config.DefaultLLMProvider)
	}
}
