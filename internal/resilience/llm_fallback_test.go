package resilience

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/pkg/provider/llm"
	llmmock "github.com/MrWong99/lingobot/pkg/provider/llm/mock"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	m, _ := newTestMetrics(t)
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hello from primary"}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	}, WithMetrics(m))
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if got := fb.Providers(); len(got) != 2 || got[0] != "primary" {
		t.Errorf("Providers = %v", got)
	}
}

func TestLLMFallback_Complete_FailoverRecordsMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"}}

	fb := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	}, WithMetrics(m))
	fb.AddFallback("anthropic", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "lingobot.provider.requests" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value(attribute.Key("provider"))
				s, _ := dp.Attributes.Value(attribute.Key("status"))
				got[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	if got["openai/error"] != 1 || got["anthropic/ok"] != 1 {
		t.Errorf("provider requests = %v, want openai/error=1 anthropic/ok=1", got)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	m, _ := newTestMetrics(t)
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	}, WithMetrics(m))
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Check(t *testing.T) {
	m, _ := newTestMetrics(t)
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	}, WithMetrics(m))

	if err := fb.Check(context.Background()); err != nil {
		t.Fatalf("Check before failures: %v", err)
	}
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	if err := fb.Check(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Check = %v, want ErrCircuitOpen", err)
	}
}
