// Package mock is an in-memory llm.Provider double.
//
// Tests configure the canned stream or completion up front, run the code
// under test, then inspect the recorded calls. Fields must not be mutated
// while a call is in flight.
package mock

import (
	"context"
	"sync"

	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a configurable llm.Provider. The zero value answers every call
// with zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on the stream channel, then the
	// channel closes.
	StreamChunks []llm.Chunk

	// StreamErr, when set, fails StreamCompletion before a channel opens.
	StreamErr error

	// CompleteFunc, when set, computes Complete's result per request and
	// takes priority over CompleteResponse.
	CompleteFunc func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse and CompleteErr are Complete's canned result.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// ToolCompletion and ToolErr are CompleteWithTools' canned result.
	ToolCompletion *llm.ToolCompletion
	ToolErr        error

	// StreamCalls, CompleteCalls and ToolCalls record invocations in order.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
	ToolCalls     []ToolCall
}

// ToolCall records one CompleteWithTools invocation.
type ToolCall struct {
	Ctx   context.Context
	Req   llm.CompletionRequest
	Tools []types.ToolDefinition
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteFunc != nil {
		return p.CompleteFunc(req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// CompleteWithTools implements llm.Provider.
func (p *Provider) CompleteWithTools(ctx context.Context, req llm.CompletionRequest, tools []types.ToolDefinition) (*llm.ToolCompletion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ToolCalls = append(p.ToolCalls, ToolCall{Ctx: ctx, Req: req, Tools: tools})
	return p.ToolCompletion, p.ToolErr
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.ToolCalls = nil
}
