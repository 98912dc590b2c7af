// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a single blocking
// completion call. The tutor layer builds prompts on top of it and never
// touches a vendor SDK directly.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message is one turn of the conversation sent to the model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum one of SystemPrompt or Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// Messages. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. For the tutor this is usually a
	// single "user" message.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSONMode asks the provider to constrain output to a single JSON object.
	// Providers that cannot enforce it ignore the flag; callers must still
	// validate the returned content.
	JSONMode bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. May be empty when the
	// model produced nothing; callers treat that as a failed completion.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Complete must propagate context cancellation promptly. Retries, if any, are
// the implementation's business; callers treat every returned error as final
// for that request.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
