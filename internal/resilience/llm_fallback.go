package resilience

import (
	"context"

	"github.com/MrWong99/noxcast/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across multiple chat
// backends. Each backend has its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	g := NewFallbackGroup[llm.Provider](cfg)
	g.Add(primaryName, primary)
	return &LLMFallback{group: g}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.Add(name, provider)
}

// Names lists the backends in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete sends the request to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}
