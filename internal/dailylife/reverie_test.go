package dailylife

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/selfmem"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	llmmock "github.com/whisperengine-ai/whisperengine/pkg/provider/llm/mock"
)

type fakeSelfMemory struct {
	recent    []selfmem.Reflection
	recentErr error
	stored    []selfmem.Reflection
	storeErr  error
}

func (f *fakeSelfMemory) RecentReflections(_ context.Context, limit int) ([]selfmem.Reflection, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeSelfMemory) StoreReflection(_ context.Context, r selfmem.Reflection) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, r)
	return nil
}

func newTestReverie(chat *llmmock.Provider, mem *fakeSelfMemory) *Reverie {
	def := &character.Definition{
		Name:    "Elena",
		Persona: "A warm marine biologist with a telescope habit.",
	}
	return NewReverie("elena", def, autonomyOn, chat, mem, nil)
}

func TestReverie_StoresReflection(t *testing.T) {
	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"effectiveness":0.8,"authenticity":0.9,"emotional_resonance":0.7,` +
			`"learning_insight":"users open up after shared jokes",` +
			`"improvement_suggestion":"ask more follow-up questions",` +
			`"dominant_trait":"curiosity"}`,
	}}
	mem := &fakeSelfMemory{recent: []selfmem.Reflection{
		{LearningInsight: "long replies lose people", DominantTrait: "enthusiasm"},
	}}
	r := newTestReverie(chat, mem)

	if err := r.Run(context.Background(), ReverieArgs{Bot: "elena"}); err != nil {
		t.Fatal(err)
	}

	if len(mem.stored) != 1 {
		t.Fatalf("stored %d reflections, want 1", len(mem.stored))
	}
	got := mem.stored[0]
	if got.DominantTrait != "curiosity" || got.Authenticity != 0.9 {
		t.Errorf("stored reflection = %+v", got)
	}

	if len(chat.CompleteCalls) != 1 {
		t.Fatalf("complete calls = %d", len(chat.CompleteCalls))
	}
	prompt := chat.CompleteCalls[0].Req.SystemPrompt
	if !strings.Contains(prompt, "Elena") {
		t.Error("prompt missing character name")
	}
	if !strings.Contains(prompt, "long replies lose people") {
		t.Error("prompt missing earlier reflection seed")
	}
	if chat.CompleteCalls[0].Req.Temperature != creativeTemperature {
		t.Errorf("temperature = %v", chat.CompleteCalls[0].Req.Temperature)
	}
}

func TestReverie_RecoversWrappedJSON(t *testing.T) {
	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Here is my reflection:\n```json\n" +
			`{"effectiveness":0.5,"authenticity":0.6,"emotional_resonance":0.4,` +
			`"learning_insight":"x","improvement_suggestion":"y","dominant_trait":"calm",}` +
			"\n```",
	}}
	mem := &fakeSelfMemory{}
	r := newTestReverie(chat, mem)

	if err := r.Run(context.Background(), ReverieArgs{Bot: "elena"}); err != nil {
		t.Fatal(err)
	}
	if len(mem.stored) != 1 || mem.stored[0].DominantTrait != "calm" {
		t.Errorf("stored = %+v", mem.stored)
	}
}

func TestReverie_DisabledDoesNothing(t *testing.T) {
	chat := &llmmock.Provider{}
	mem := &fakeSelfMemory{}
	def := &character.Definition{Name: "Elena"}
	off := func() config.AutonomyConfig { return config.AutonomyConfig{} }
	r := NewReverie("elena", def, off, chat, mem, nil)

	if err := r.Run(context.Background(), ReverieArgs{Bot: "elena"}); err != nil {
		t.Fatal(err)
	}
	if len(chat.CompleteCalls) != 0 || len(mem.stored) != 0 {
		t.Error("disabled reverie still ran")
	}
}

func TestReverie_ProviderError(t *testing.T) {
	boom := errors.New("llm down")
	chat := &llmmock.Provider{CompleteErr: boom}
	r := newTestReverie(chat, &fakeSelfMemory{})

	if err := r.Run(context.Background(), ReverieArgs{Bot: "elena"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}
