package selfmem

import (
	"context"
	"strings"
	"testing"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	memmock "github.com/whisperengine-ai/whisperengine/pkg/memory/mock"
	embmock "github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	llmmock "github.com/whisperengine-ai/whisperengine/pkg/provider/llm/mock"
)

func axisEmbedder() *embmock.Provider {
	return &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			v := make([]float32, 3)
			if strings.Contains(strings.ToLower(text), "sister") {
				v[0] = 1
			} else {
				v[1] = 1
			}
			return v
		},
	}
}

func TestSelfUserID(t *testing.T) {
	if got := SelfUserID("elena"); got != "bot_self_elena" {
		t.Errorf("SelfUserID = %q, want bot_self_elena", got)
	}
}

func TestStore_ImportKnowledge(t *testing.T) {
	t.Run("imports facts as per-fact entries", func(t *testing.T) {
		coll := memmock.NewCollection("elena")
		chat := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: `[
					{"category": "relationships", "fact": "Elena has a younger sister named Sofia.", "synonyms": ["sister", "sibling", "Sofia"]},
					{"category": "current_projects", "fact": "Elena is cataloguing reef samples this month.", "synonyms": ["reef project", "samples"]}
				]`,
			},
		}
		s := New(coll, axisEmbedder(), chat, nil)

		n, err := s.ImportKnowledge(context.Background(), "Elena is a marine biologist...")
		if err != nil {
			t.Fatalf("ImportKnowledge: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 facts imported, got %d", n)
		}
		for _, e := range coll.All() {
			if e.UserID != "bot_self_elena" {
				t.Errorf("fact stored outside self namespace: %q", e.UserID)
			}
			if e.MemoryType != memory.TypeSelfKnowledge {
				t.Errorf("expected self-knowledge type, got %q", e.MemoryType)
			}
			if e.Role != memory.RoleKnowledgeImport {
				t.Errorf("expected knowledge_import role, got %q", e.Role)
			}
		}
	})

	t.Run("repairs almost-JSON output", func(t *testing.T) {
		coll := memmock.NewCollection("elena")
		chat := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "```json\n[{category: \"background\", fact: \"Elena grew up in Veracruz.\", synonyms: [\"hometown\"],},]\n```",
			},
		}
		s := New(coll, axisEmbedder(), chat, nil)

		n, err := s.ImportKnowledge(context.Background(), "definition")
		if err != nil {
			t.Fatalf("ImportKnowledge: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 fact, got %d", n)
		}
	})

	t.Run("rejects empty definition", func(t *testing.T) {
		s := New(memmock.NewCollection("elena"), axisEmbedder(), &llmmock.Provider{}, nil)
		if _, err := s.ImportKnowledge(context.Background(), "   "); err == nil {
			t.Fatal("expected error for empty definition")
		}
	})
}

func TestStore_QuerySelfKnowledge(t *testing.T) {
	coll := memmock.NewCollection("elena")
	chat := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `[
				{"category": "relationships", "fact": "Elena has a younger sister named Sofia.", "synonyms": ["sister"]},
				{"category": "daily_routine", "fact": "Elena swims every morning before work.", "synonyms": ["swimming"]}
			]`,
		},
	}
	s := New(coll, axisEmbedder(), chat, nil)
	if _, err := s.ImportKnowledge(context.Background(), "definition"); err != nil {
		t.Fatalf("ImportKnowledge: %v", err)
	}

	hits, err := s.QuerySelfKnowledge(context.Background(), "tell me about your sister", 1)
	if err != nil {
		t.Fatalf("QuerySelfKnowledge: %v", err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0].Content, "Sofia") {
		t.Fatalf("expected sister fact, got %+v", hits)
	}
}

func TestStore_Reflections(t *testing.T) {
	coll := memmock.NewCollection("elena")
	s := New(coll, axisEmbedder(), nil, nil)
	ctx := context.Background()

	err := s.StoreReflection(ctx, Reflection{
		Effectiveness:      1.4, // out of range, must clamp
		Authenticity:       0.8,
		EmotionalResonance: -0.2,
		LearningInsight:    "User opens up after being asked about their day.",
		DominantTrait:      "warmth",
	})
	if err != nil {
		t.Fatalf("StoreReflection: %v", err)
	}

	got, err := s.RecentReflections(ctx, 5)
	if err != nil {
		t.Fatalf("RecentReflections: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 reflection, got %d", len(got))
	}
	r := got[0]
	if r.Effectiveness != 1 || r.EmotionalResonance != 0 {
		t.Errorf("expected clamped scores, got %+v", r)
	}
	if r.DominantTrait != "warmth" {
		t.Errorf("expected warmth trait, got %q", r.DominantTrait)
	}
}

func TestStore_SelfNamespaceIsolation(t *testing.T) {
	coll := memmock.NewCollection("elena")
	s := New(coll, axisEmbedder(), nil, nil)
	ctx := context.Background()

	if err := s.StoreReflection(ctx, Reflection{LearningInsight: "note"}); err != nil {
		t.Fatalf("StoreReflection: %v", err)
	}

	// A user-scoped search must never see self-memory entries.
	vec := []float32{0, 1, 0}
	hits, err := coll.SearchVector(ctx, memory.FacetContent, vec, memory.Filter{UserID: "u1"}, 10)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("self-memory leaked into user retrieval: %+v", hits)
	}
}

func TestFormatSelfKnowledge_FallbackListing(t *testing.T) {
	s := New(memmock.NewCollection("elena"), axisEmbedder(), nil, nil)
	hits := []memory.ScoredMemory{
		{Memory: memory.Memory{Content: "Elena has a younger sister named Sofia."}},
	}
	out := s.FormatSelfKnowledge(context.Background(), "sister", hits)
	if !strings.Contains(out, "Sofia") {
		t.Errorf("expected fact in listing, got %q", out)
	}
}
