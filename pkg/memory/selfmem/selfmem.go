// Package selfmem implements the bot's self-memory: character knowledge and
// post-interaction self-reflections, stored in the bot's own collection under
// a synthetic user id that normal user retrieval never addresses.
//
// The namespace holds two kinds of entries. Knowledge facts come from a
// one-shot LLM-assisted import of the character definition, broken into
// per-fact entries with query synonyms so later searches land well. Reflections
// are structured self-assessments written after notable interactions and fed
// back into prompt construction.
package selfmem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// SelfUserIDPrefix namespaces self-memory inside the bot's collection.
const SelfUserIDPrefix = "bot_self_"

// SelfUserID returns the synthetic user id holding bot's self-memory.
func SelfUserID(bot string) string { return SelfUserIDPrefix + bot }

// knowledgeCategories are the fact groups the import prompt asks for.
var knowledgeCategories = []string{
	"relationships", "background", "current_projects", "daily_routine", "personality_insights",
}

// importPrompt instructs the LLM to break a character definition into facts.
const importPrompt = `Extract the character's facts from the definition below as a JSON array.
Each element: {"category": one of %s, "fact": one self-contained sentence, "synonyms": [2-5 short phrases a user might search for]}.
Return only the JSON array.

Definition:
%s`

// Fact is one imported character knowledge entry.
type Fact struct {
	Category string   `json:"category"`
	Fact     string   `json:"fact"`
	Synonyms []string `json:"synonyms"`
}

// Reflection is a structured self-assessment of one notable interaction.
// All scores are in [0,1].
type Reflection struct {
	Effectiveness         float64 `json:"effectiveness"`
	Authenticity          float64 `json:"authenticity"`
	EmotionalResonance    float64 `json:"emotional_resonance"`
	LearningInsight       string  `json:"learning_insight"`
	ImprovementSuggestion string  `json:"improvement_suggestion"`
	DominantTrait         string  `json:"dominant_trait"`
}

// Store manages one bot's self-memory namespace.
type Store struct {
	coll   memory.Collection
	embed  embeddings.Provider
	chat   llm.Provider
	selfID string
	log    *slog.Logger
}

// New creates a self-memory store for the bot owning coll. chat may be nil,
// in which case knowledge import is unavailable and self-knowledge formatting
// falls back to a plain listing.
func New(coll memory.Collection, embed embeddings.Provider, chat llm.Provider, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		coll:   coll,
		embed:  embed,
		chat:   chat,
		selfID: SelfUserID(coll.BotName()),
		log:    log,
	}
}

// SelfID returns the namespace user id this store writes under.
func (s *Store) SelfID() string { return s.selfID }

// ImportKnowledge runs the one-shot LLM-assisted extraction of character facts
// from the definition document and stores each fact as a separate searchable
// entry. Returns the number of facts imported.
func (s *Store) ImportKnowledge(ctx context.Context, definition string) (int, error) {
	if s.chat == nil {
		return 0, fmt.Errorf("selfmem: import: no llm provider configured")
	}
	if strings.TrimSpace(definition) == "" {
		return 0, fmt.Errorf("selfmem: import: empty character definition")
	}

	resp, err := s.chat.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf(importPrompt, strings.Join(knowledgeCategories, "|"), definition),
		}},
		Temperature: 0.2,
	})
	if err != nil {
		return 0, fmt.Errorf("selfmem: import: llm: %w", err)
	}

	facts, err := parseFacts(resp.Content)
	if err != nil {
		return 0, fmt.Errorf("selfmem: import: %w", err)
	}
	if len(facts) == 0 {
		return 0, nil
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = factText(f)
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("selfmem: import: embed: %w", err)
	}
	if len(vecs) != len(facts) {
		return 0, fmt.Errorf("selfmem: import: expected %d vectors, got %d", len(facts), len(vecs))
	}

	now := time.Now()
	entries := make([]memory.Memory, len(facts))
	for i, f := range facts {
		entries[i] = memory.Memory{
			ID:          uuid.NewString(),
			UserID:      s.selfID,
			Role:        memory.RoleKnowledgeImport,
			Content:     factText(f),
			Timestamp:   now.Add(time.Duration(i) * time.Millisecond),
			MemoryType:  memory.TypeSelfKnowledge,
			SemanticKey: f.Category,
			Vectors:     memory.NamedVectors{Content: vecs[i]},
		}
	}
	if err := s.coll.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("selfmem: import: %w", err)
	}
	return len(entries), nil
}

// QuerySelfKnowledge searches the self namespace for facts relevant to query.
func (s *Store) QuerySelfKnowledge(ctx context.Context, query string, limit int) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selfmem: query: embed: %w", err)
	}
	hits, err := s.coll.SearchVector(ctx, memory.FacetContent, vec, memory.Filter{
		UserID:      s.selfID,
		MemoryTypes: []memory.MemoryType{memory.TypeSelfKnowledge},
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("selfmem: query: %w", err)
	}
	return hits, nil
}

// FormatSelfKnowledge renders self-knowledge hits into a short first-person
// passage for the response prompt. With an LLM configured the passage is
// rewritten in the character's voice; otherwise facts are listed verbatim.
func (s *Store) FormatSelfKnowledge(ctx context.Context, query string, hits []memory.ScoredMemory) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range hits {
		b.WriteString("- ")
		b.WriteString(h.Content)
		b.WriteString("\n")
	}
	listing := b.String()
	if s.chat == nil {
		return listing
	}

	resp, err := s.chat.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Rewrite these facts about yourself as one short first-person paragraph relevant to %q. Keep every fact accurate.\n%s",
				query, listing),
		}},
		Temperature: 0.4,
		MaxTokens:   200,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		s.log.Warn("self-knowledge formatting failed, using listing", "bot", s.coll.BotName(), "error", err)
		return listing
	}
	return resp.Content
}

// StoreReflection persists a structured self-reflection. Scores are clamped
// to [0,1] before the write.
func (s *Store) StoreReflection(ctx context.Context, r Reflection) error {
	r.Effectiveness = clamp01(r.Effectiveness)
	r.Authenticity = clamp01(r.Authenticity)
	r.EmotionalResonance = clamp01(r.EmotionalResonance)

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("selfmem: reflection: marshal: %w", err)
	}
	text := r.LearningInsight
	if text == "" {
		text = string(doc)
	}
	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("selfmem: reflection: embed: %w", err)
	}

	entry := memory.Memory{
		ID:         uuid.NewString(),
		UserID:     s.selfID,
		Role:       memory.RoleSelfReflection,
		Content:    string(doc),
		Timestamp:  time.Now(),
		MemoryType: memory.TypeSelfReflection,
		Vectors:    memory.NamedVectors{Content: vec},
	}
	if err := s.coll.Upsert(ctx, []memory.Memory{entry}); err != nil {
		return fmt.Errorf("selfmem: reflection: %w", err)
	}
	return nil
}

// RecentReflections returns the newest limit reflections, most recent first.
func (s *Store) RecentReflections(ctx context.Context, limit int) ([]Reflection, error) {
	entries, err := s.coll.Recent(ctx, memory.Filter{
		UserID:      s.selfID,
		MemoryTypes: []memory.MemoryType{memory.TypeSelfReflection},
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("selfmem: recent reflections: %w", err)
	}
	out := make([]Reflection, 0, len(entries))
	for _, e := range entries {
		var r Reflection
		if err := json.Unmarshal([]byte(e.Content), &r); err != nil {
			s.log.Warn("skipping malformed reflection", "bot", s.coll.BotName(), "id", e.ID, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// parseFacts decodes the LLM's JSON array, repairing almost-JSON output
// (trailing commas, unquoted keys, fenced blocks) before giving up.
func parseFacts(raw string) ([]Fact, error) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "["); i >= 0 {
		if j := strings.LastIndex(text, "]"); j > i {
			text = text[i : j+1]
		}
	}
	var facts []Fact
	if err := json.Unmarshal([]byte(text), &facts); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, fmt.Errorf("parse facts: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &facts); err != nil {
			return nil, fmt.Errorf("parse repaired facts: %w", err)
		}
	}
	var valid []Fact
	for _, f := range facts {
		if strings.TrimSpace(f.Fact) == "" {
			continue
		}
		if f.Category == "" {
			f.Category = "background"
		}
		valid = append(valid, f)
	}
	return valid, nil
}

// factText is the stored, searchable form of a fact: the fact itself plus its
// query synonyms so synonym searches score well on the content vector.
func factText(f Fact) string {
	if len(f.Synonyms) == 0 {
		return f.Fact
	}
	return f.Fact + "\nAlso known as: " + strings.Join(f.Synonyms, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
