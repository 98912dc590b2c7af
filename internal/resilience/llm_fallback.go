package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
//
// Every attempt is recorded on the configured [observe.Metrics] as a provider
// request (kind "llm") and an LLM latency sample.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallbackOption configures an [LLMFallback].
type LLMFallbackOption func(*LLMFallback)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LLMFallbackOption {
	return func(f *LLMFallback) { f.metrics = m }
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...LLMFallbackOption) *LLMFallback {
	f := &LLMFallback{}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	f.group = NewFallbackGroup[llm.Provider](f.meter(primaryName, primary), primaryName, cfg)
	return f
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, f.meter(name, provider))
}

// Providers returns the backend names in failover order.
func (f *LLMFallback) Providers() []string { return f.group.Names() }

// Check returns [ErrCircuitOpen] when every backend's breaker is open. It
// matches the health.Checker signature.
func (f *LLMFallback) Check(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return ErrCircuitOpen
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

func (f *LLMFallback) meter(name string, p llm.Provider) llm.Provider {
	return &meteredProvider{name: name, next: p, metrics: f.metrics}
}

// meteredProvider records request outcome and latency around one backend.
type meteredProvider struct {
	name    string
	next    llm.Provider
	metrics *observe.Metrics
}

func (m *meteredProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.next.Complete(ctx, req)
	m.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", m.name)))

	status := "ok"
	if err != nil {
		status = "error"
		m.metrics.RecordProviderError(ctx, m.name, "llm")
	}
	m.metrics.RecordProviderRequest(ctx, m.name, "llm", status)
	return resp, err
}
