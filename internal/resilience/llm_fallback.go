package resilience

import (
	"context"

	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// LLMFailover implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type LLMFailover struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates an [LLMFailover] with primary as the preferred
// backend. cfg.Kind is forced to "llm".
func NewLLMFailover(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFailover {
	cfg.Kind = "llm"
	return &LLMFailover{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CompleteWithTools sends the tool-enabled request to the first healthy
// provider.
func (f *LLMFailover) CompleteWithTools(ctx context.Context, req llm.CompletionRequest, tools []types.ToolDefinition) (*llm.ToolCompletion, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.ToolCompletion, error) {
		return p.CompleteWithTools(ctx, req, tools)
	})
}

// StreamCompletion sends the request to the first healthy provider and
// returns its chunk channel. Only the initial connection attempt is covered
// by failover; once a stream is established, mid-stream errors belong to the
// caller.
func (f *LLMFailover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
