package llm

import (
	"context"
	"time"
)

// WithTimeout returns a Provider that bounds every Complete call on p to d.
// A non-positive d returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: d}
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

func (t *timeoutProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}
