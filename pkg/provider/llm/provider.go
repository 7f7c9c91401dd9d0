// Package llm abstracts chat-completion backends.
//
// A Provider wraps one model API (OpenAI, Anthropic via any-llm, a local
// Ollama endpoint) behind the operations the bot actually performs: streaming
// a reply into Discord, waiting for a whole completion in the background
// workers, and an occasional tool-enabled round.
// Implementations must be safe for concurrent use and
// must close the stream channel when generation ends or ctx is cancelled.
package llm

import (
	"context"

	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// Usage is the backend's token accounting for one request. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one chat completion call. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, last message driving the
	// reply.
	Messages []types.Message

	// Temperature in [0.0, 2.0]. Zero asks for near-deterministic decoding.
	Temperature float64

	// MaxTokens caps generated tokens; zero uses the provider default.
	MaxTokens int

	// SystemPrompt, when non-empty, is injected ahead of Messages. Backends
	// without a dedicated system slot prepend it as a system-role message.
	SystemPrompt string
}

// Chunk is one streamed fragment of a completion.
type Chunk struct {
	// Text is incremental content; may be empty on the final chunk.
	Text string

	// FinishReason is empty on intermediate chunks. "stop" and "length" are
	// normal terminations; "error" marks a mid-stream failure, with Text
	// holding the error message.
	FinishReason string
}

// CompletionResponse is the full reply from [Provider.Complete].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ToolCompletion is the reply from one tool-enabled round. Content and
// ToolCalls may both be set; an empty ToolCalls means the model answered
// directly.
type ToolCompletion struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is one chat-completion backend.
//
// All methods must honor ctx cancellation promptly.
type Provider interface {
	// StreamCompletion starts a completion and emits chunks as they arrive.
	// The implementation closes the channel when generation finishes or ctx
	// is cancelled; callers must drain it. The error return covers failures
	// to start the stream; later failures arrive as a Chunk with
	// FinishReason "error". A nil error guarantees a non-nil channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs the request to completion and returns the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteWithTools runs a single tool-enabled round: the model sees
	// tools alongside req and either answers or requests calls. Executing
	// the calls and continuing the exchange is the caller's business.
	CompleteWithTools(ctx context.Context, req CompletionRequest, tools []types.ToolDefinition) (*ToolCompletion, error)
}
