// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify which CompletionRequests are sent and
// to feed controlled responses without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"corrected":"Eu fui","reply":"Legal!"}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingobot/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Result is a single queued Complete outcome.
type Result struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause Complete to return nil, nil.
type Provider struct {
	mu sync.Mutex

	// Queue holds per-call results consumed in order. When empty, Complete
	// falls back to CompleteResponse and CompleteErr.
	Queue []Result

	// CompleteResponse is returned by Complete. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next queued result, or
// CompleteResponse, CompleteErr when the queue is drained.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.Queue) > 0 {
		r := p.Queue[0]
		p.Queue = p.Queue[1:]
		return r.Response, r.Err
	}
	return p.CompleteResponse, p.CompleteErr
}

// CallCount returns the number of recorded Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
