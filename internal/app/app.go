// Package app wires all lingobot subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// correction stack and transports, Run serves HTTP (and Discord when
// configured) until the context is cancelled, and Shutdown tears everything
// down in reverse order.
//
// For testing, inject doubles via functional options (WithStore, WithLLM,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingobot/internal/bot"
	"github.com/MrWong99/lingobot/internal/config"
	"github.com/MrWong99/lingobot/internal/discord"
	"github.com/MrWong99/lingobot/internal/health"
	"github.com/MrWong99/lingobot/internal/kv"
	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/mcpserver"
	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/internal/pipeline"
	"github.com/MrWong99/lingobot/internal/resilience"
	"github.com/MrWong99/lingobot/internal/tutor/llmtutor"
	"github.com/MrWong99/lingobot/internal/webchat"
	"github.com/MrWong99/lingobot/pkg/provider/llm"
)

// HTTP routes served by the application.
const (
	PathHealthz = "/healthz"
	PathReadyz  = "/readyz"
	PathMetrics = "/metrics"
	PathWebChat = "/ws"
	PathMCP     = "/mcp"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	version  string

	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	store    kv.Store
	learners *learner.Store
	llm      *resilience.LLMFallback
	router   *bot.Router
	discord  *discord.Bot
	webchat  *webchat.Handler
	mcp      *mcpserver.Server
	health   *health.Handler
	handler  http.Handler

	primary llm.Provider

	// closers run in reverse order during Shutdown.
	closers []func() error

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	ready    chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a key-value store instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s kv.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects the primary language model instead of creating it from the
// registry. Configured fallbacks are still created when a registry is set.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.primary = p }
}

// WithRegistry sets the provider registry used to build the configured LLM
// backends.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink shared by all subsystems.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics, usually
// [observe.Telemetry.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It opens the store
// and builds providers synchronously but does not start listening; call Run
// for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Language models ──────────────────────────────────────────────
	if err := a.initLLM(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init llm: %w", err)
	}

	// ── 3. Correction stack ─────────────────────────────────────────────
	a.initTutor()

	// ── 4. Transports ───────────────────────────────────────────────────
	if err := a.initTransports(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transports: %w", err)
	}

	// ── 5. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		s, err := kv.Open(ctx, a.cfg.Store)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		slog.Info("store opened", "backend", a.cfg.Store.Backend)
	}
	a.learners = learner.New(a.store, learner.WithDefaultNativeLanguage(a.cfg.Tutor.DefaultNativeLanguage))
	return nil
}

// initLLM builds the primary provider and its fallbacks behind per-provider
// circuit breakers.
func (a *App) initLLM() error {
	primaryName := a.cfg.Providers.LLM.Name
	if a.primary == nil {
		if a.registry == nil {
			return errors.New("no llm provider injected and no registry set")
		}
		p, err := a.registry.CreateLLM(a.cfg.Providers.LLM)
		if err != nil {
			return err
		}
		a.primary = p
	}
	if primaryName == "" {
		primaryName = "primary"
	}

	res := a.cfg.Resilience
	a.llm = resilience.NewLLMFallback(a.primary, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  res.MaxFailures,
			ResetTimeout: res.ResetTimeout,
			HalfOpenMax:  res.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("llm circuit breaker state changed", "provider", name, "from", from, "to", to)
			},
		},
	}, resilience.WithMetrics(a.metrics))

	for i, entry := range a.cfg.Providers.Fallbacks {
		if a.registry == nil {
			return fmt.Errorf("llm fallback %q configured but no registry set", entry.Name)
		}
		p, err := a.registry.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
		a.llm.AddFallback(entry.Name, p)
	}
	slog.Info("llm providers ready", "order", a.llm.Providers())
	return nil
}

// initTutor builds the corrector, the pipeline and the command router.
func (a *App) initTutor() {
	t := a.cfg.Tutor
	var tutorOpts []llmtutor.Option
	if t.CorrectionTemperature > 0 {
		tutorOpts = append(tutorOpts, llmtutor.WithCorrectionTemperature(t.CorrectionTemperature))
	}
	if t.PracticeTemperature > 0 {
		tutorOpts = append(tutorOpts, llmtutor.WithPracticeTemperature(t.PracticeTemperature))
	}
	if t.MaxTokens > 0 {
		tutorOpts = append(tutorOpts, llmtutor.WithMaxTokens(t.MaxTokens))
	}
	coach := llmtutor.New(a.llm, tutorOpts...)

	p := pipeline.New(a.store, a.learners, a.learners, coach,
		pipeline.WithReinforcementThreshold(t.ReinforcementThreshold),
		pipeline.WithCacheTTL(t.CacheTTL),
		pipeline.WithMetrics(a.metrics),
	)
	a.router = bot.NewRouter(a.learners, a.learners, p, coach, bot.WithMetrics(a.metrics))
}

// initTransports builds the enabled chat transports. Nothing connects yet.
func (a *App) initTransports() error {
	if a.cfg.Discord.Enabled() {
		b, err := discord.New(discord.Config{
			Token:     a.cfg.Discord.Token,
			GuildID:   a.cfg.Discord.GuildID,
			ChannelID: a.cfg.Discord.ChannelID,
		}, a.router)
		if err != nil {
			return err
		}
		a.discord = b
		a.closers = append(a.closers, b.Close)
	}
	if a.cfg.WebChat.Enabled {
		a.webchat = webchat.New(a.router,
			webchat.WithOriginPatterns(a.cfg.WebChat.OriginPatterns...),
			webchat.WithMetrics(a.metrics),
		)
		a.closers = append(a.closers, a.webchat.Close)
	}
	if a.cfg.MCP.Enabled {
		var mcpOpts []mcpserver.Option
		if a.version != "" {
			mcpOpts = append(mcpOpts, mcpserver.WithVersion(a.version))
		}
		mcpOpts = append(mcpOpts, mcpserver.WithMetrics(a.metrics))
		a.mcp = mcpserver.New(a.router, a.learners, a.learners, mcpOpts...)
	}
	return nil
}

// initHTTP assembles the mux behind the observability middleware.
func (a *App) initHTTP() {
	a.health = health.New(
		health.PingCheck("store", a.store),
		health.Checker{Name: "llm", Check: a.llm.Check},
	)

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET "+PathMetrics, a.metricsHandler)
	}
	if a.webchat != nil {
		mux.Handle(PathWebChat, a.webchat)
	}
	if a.mcp != nil {
		mux.Handle(PathMCP, a.mcp.Handler())
	}

	a.handler = otelhttp.NewHandler(observe.Middleware(a.metrics)(mux), "lingobot")
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Router returns the command router shared by all transports.
func (a *App) Router() *bot.Router { return a.router }

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the address Run listens on, or nil before [App.Ready] closes.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and runs the Discord bot when
// enabled. It blocks until ctx is cancelled or a component fails. A clean
// cancellation returns nil. Run must be called at most once.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:     a.handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.server = srv
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})
	if a.discord != nil {
		g.Go(func() error {
			err := a.discord.Run(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("app: discord: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
