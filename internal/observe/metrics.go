// Package observe provides application-wide observability primitives for
// lingobot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingobot metrics.
const meterName = "github.com/MrWong99/lingobot"

// Cache lookup results recorded by [Metrics.RecordCacheLookup].
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheCorrupt = "corrupt"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks LLM completion latency. Use with attribute:
	//   attribute.String("provider", ...)
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end correction latency, cache included.
	PipelineDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CacheLookups counts correction cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss"|"corrupt")
	CacheLookups metric.Int64Counter

	// Corrections counts resolved corrections. Use with attribute:
	//   attribute.String("error_type", ...) ("none" for correct messages)
	Corrections metric.Int64Counter

	// Reinforcements counts triggered reinforcement reminders. Use with attribute:
	//   attribute.String("error_type", ...)
	Reinforcements metric.Int64Counter

	// Commands counts routed commands. Use with attribute:
	//   attribute.String("command", ...)
	Commands metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks open chat connections. Use with attribute:
	//   attribute.String("transport", ...)
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// chat completions, which routinely take seconds.
var latencyBuckets = []float64{
	0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("lingobot.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("lingobot.pipeline.duration",
		metric.WithDescription("End-to-end latency of message correction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("lingobot.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("lingobot.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("lingobot.cache.lookups",
		metric.WithDescription("Correction cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("lingobot.corrections",
		metric.WithDescription("Resolved corrections by error type."),
	); err != nil {
		return nil, err
	}
	if met.Reinforcements, err = m.Int64Counter("lingobot.reinforcements",
		metric.WithDescription("Triggered reinforcement reminders by error type."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("lingobot.commands",
		metric.WithDescription("Routed commands by name."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("lingobot.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("lingobot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("lingobot.active_connections",
		metric.WithDescription("Number of open chat connections by transport."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingobot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records one correction cache lookup. result is one of
// [CacheHit], [CacheMiss] or [CacheCorrupt].
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCorrection records a resolved correction. An empty errorType is
// reported as "none".
func (m *Metrics) RecordCorrection(ctx context.Context, errorType string) {
	if errorType == "" {
		errorType = "none"
	}
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

// RecordReinforcement records a triggered reinforcement reminder.
func (m *Metrics) RecordReinforcement(ctx context.Context, errorType string) {
	m.Reinforcements.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

// RecordCommand records a routed command.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
