// Command lingobot is the main entry point for the lingobot language tutor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/lingobot/internal/app"
	"github.com/MrWong99/lingobot/internal/config"
	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/pkg/provider/llm"
	"github.com/MrWong99/lingobot/pkg/provider/llm/anyllm"
	"github.com/MrWong99/lingobot/pkg/provider/llm/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is read when present; lingobot also runs from env alone.
const defaultConfigPath = "lingobot.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "path to a .env file loaded before the environment is read")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "lingobot: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	path := resolveConfigPath(*configPath, isFlagSet("config"))
	cfg, err := config.Load(path, nil)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingobot: config file %q not found\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "lingobot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lingobot starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "lingobot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// resolveConfigPath returns path, or "" when the default file is absent and
// the user did not ask for it explicitly.
func resolveConfigPath(path string, explicit bool) string {
	if explicit {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

// isFlagSet reports whether the named flag was passed on the command line.
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are served through any-llm-go. "openai" uses the native SDK
// so requests can be traced through httpClient.
var anyllmProviders = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in LLM factories into reg.
func registerBuiltinProviders(reg *config.Registry, httpClient *http.Client) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithHTTPClient(httpClient)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			// ollama is a local server; it uses BaseURL for the address, not an API key.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return llm.WithTimeout(p, entry.Timeout), nil
		})
	}

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        lingobot, startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	for i, fb := range cfg.Providers.Fallbacks {
		printRow(w, fmt.Sprintf("Fallback %d", i+1), providerLabel(fb))
	}
	printRow(w, "Store", cfg.Store.Backend)
	printRow(w, "Discord", enabledLabel(cfg.Discord.Enabled()))
	printRow(w, "Web chat", enabledLabel(cfg.WebChat.Enabled))
	printRow(w, "MCP", enabledLabel(cfg.MCP.Enabled))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

func printRow(w io.Writer, kind, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
