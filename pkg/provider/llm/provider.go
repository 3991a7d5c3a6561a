// Package llm defines the Provider interface for the AI backend that answers
// viewer chat.
//
// A provider wraps a remote model API (OpenAI, any vendor reachable through
// any-llm, or a self-hosted OpenAI-compatible endpoint) behind a single
// request/response call. The chat pipeline only ever needs a finished reply,
// so there is no streaming surface.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is the
	// viewer line being answered.
	Messages []Message

	// SystemPrompt is the presenter persona. Providers without a dedicated
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the finished reply.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any AI backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
