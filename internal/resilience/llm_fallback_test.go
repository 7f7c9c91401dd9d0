package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	llmmock "github.com/whisperengine-ai/whisperengine/pkg/provider/llm/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

func TestLLMFailover_Complete(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	f := NewLLMFailover(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 || len(backup.CompleteCalls) != 1 {
		t.Errorf("calls: primary=%d backup=%d", len(primary.CompleteCalls), len(backup.CompleteCalls))
	}
}

func TestLLMFailover_AllFail(t *testing.T) {
	f := NewLLMFailover(&llmmock.Provider{CompleteErr: errTest}, "primary", FallbackConfig{})
	f.AddFallback("backup", &llmmock.Provider{CompleteErr: errTest})

	_, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFailover_CompleteWithTools(t *testing.T) {
	primary := &llmmock.Provider{ToolErr: errTest}
	backup := &llmmock.Provider{ToolCompletion: &llm.ToolCompletion{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "lookup_fact", Arguments: `{"topic":"diving"}`}},
	}}

	f := NewLLMFailover(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	tools := []types.ToolDefinition{{Name: "lookup_fact", Description: "look up a stored fact"}}
	resp, err := f.CompleteWithTools(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	}, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup_fact" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if len(backup.ToolCalls) != 1 || len(backup.ToolCalls[0].Tools) != 1 {
		t.Errorf("backup saw %d calls", len(backup.ToolCalls))
	}
}

func TestLLMFailover_Stream(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errTest}
	backup := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hello"}, {FinishReason: "stop"}}}

	f := NewLLMFailover(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "hello" {
		t.Errorf("streamed text = %q", text)
	}
}
