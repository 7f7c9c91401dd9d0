package sessiontrack

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	memmock "github.com/whisperengine-ai/whisperengine/pkg/memory/mock"
	embmock "github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	llmmock "github.com/whisperengine-ai/whisperengine/pkg/provider/llm/mock"
)

// fakeRelationships is an in-memory Relationships double.
type fakeRelationships struct {
	mu    sync.Mutex
	prefs map[string]map[string]any

	moods       map[string]string
	intensities map[string]float64

	updates int
}

var _ Relationships = (*fakeRelationships)(nil)

func newFakeRelationships() *fakeRelationships {
	return &fakeRelationships{
		prefs:       make(map[string]map[string]any),
		moods:       make(map[string]string),
		intensities: make(map[string]float64),
	}
}

func (f *fakeRelationships) GetRelationship(_ context.Context, userID string) (*trust.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefs := make(map[string]any, len(f.prefs[userID]))
	for k, v := range f.prefs[userID] {
		prefs[k] = v
	}
	return &trust.Relationship{BotName: "elena", UserID: userID, Preferences: prefs}, nil
}

func (f *fakeRelationships) UpdatePreference(_ context.Context, userID, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs[userID] == nil {
		f.prefs[userID] = make(map[string]any)
	}
	f.prefs[userID][key] = value
	f.updates++
	return nil
}

func (f *fakeRelationships) SetMood(_ context.Context, userID, mood string, intensity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moods[userID] = mood
	f.intensities[userID] = intensity
	return nil
}

func (f *fakeRelationships) pref(userID, key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[userID][key]
}

// hashEmbed produces distinct deterministic unit-ish vectors per text.
func hashEmbed(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000 - 0.5
	}
	return vec
}

func newTestPipeline(chat *llmmock.Provider) (*Pipeline, *memmock.Collection, *fakeRelationships) {
	coll := memmock.NewCollection("elena")
	embed := &embmock.Provider{EmbedFunc: hashEmbed, DimensionsValue: 8}
	rel := newFakeRelationships()
	return NewPipeline(coll, embed, chat, rel, nil, nil), coll, rel
}

// seedSession stores alternating user/bot turns for one session.
func seedSession(t *testing.T, coll *memmock.Collection, userID, sessionID string, start time.Time, userLines ...string) SessionArgs {
	t.Helper()
	var entries []memory.Memory
	for i, line := range userLines {
		ts := start.Add(time.Duration(i) * time.Minute)
		entries = append(entries,
			memory.Memory{
				ID: fmt.Sprintf("%s-u%d", sessionID, i), UserID: userID, Role: memory.RoleUser,
				Content: line, Timestamp: ts, SessionID: sessionID,
				MemoryType: memory.TypeConversation, SemanticKey: "career",
				Vectors: memory.NamedVectors{Content: hashEmbed(line)},
			},
			memory.Memory{
				ID: fmt.Sprintf("%s-b%d", sessionID, i), UserID: userID, Role: memory.RoleBot,
				Content: "That sounds interesting, tell me more about it.", Timestamp: ts.Add(time.Second),
				SessionID: sessionID, MemoryType: memory.TypeConversation, SemanticKey: "career",
				Vectors: memory.NamedVectors{Content: hashEmbed(line + " reply")},
			},
		)
	}
	if err := coll.Upsert(context.Background(), entries); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return SessionArgs{
		UserID: userID, Bot: "elena", SessionID: sessionID,
		SessionStart: start.Add(-time.Second),
	}
}

func entriesOfType(coll *memmock.Collection, mt memory.MemoryType) []memory.Memory {
	var out []memory.Memory
	for _, e := range coll.All() {
		if e.MemoryType == mt {
			out = append(out, e)
		}
	}
	return out
}

func TestPipeline_KnowledgeExtraction(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("stores extracted facts", func(t *testing.T) {
		chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: `["User works as a marine biologist", "User has a dog named Rex"]`,
		}}
		p, coll, _ := newTestPipeline(chat)
		args := seedSession(t, coll, "u1", "s1", start,
			"I work as a marine biologist at the aquarium",
			"My dog Rex keeps stealing my field notes")

		if err := p.KnowledgeExtraction(ctx, args); err != nil {
			t.Fatalf("KnowledgeExtraction: %v", err)
		}

		facts := entriesOfType(coll, memory.TypeFact)
		if len(facts) != 2 {
			t.Fatalf("fact entries = %d, want 2", len(facts))
		}
		for _, f := range facts {
			if f.UserID != "u1" || f.Role != memory.RoleSystem || f.SessionID != "s1" {
				t.Errorf("unexpected fact entry: %+v", f)
			}
			if len(f.Vectors.Content) == 0 {
				t.Error("fact stored without a content vector")
			}
		}
	})

	t.Run("thin session skips the LLM", func(t *testing.T) {
		chat := &llmmock.Provider{}
		p, coll, _ := newTestPipeline(chat)
		args := seedSession(t, coll, "u1", "s1", start, "hi")

		if err := p.KnowledgeExtraction(ctx, args); err != nil {
			t.Fatalf("KnowledgeExtraction: %v", err)
		}
		if len(chat.CompleteCalls) != 0 {
			t.Errorf("llm called %d times for a thin session", len(chat.CompleteCalls))
		}
	})

	t.Run("only human messages reach the prompt", func(t *testing.T) {
		chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `[]`}}
		p, coll, _ := newTestPipeline(chat)
		args := seedSession(t, coll, "u1", "s1", start,
			"I have been learning to sail this summer on weekends")

		if err := p.KnowledgeExtraction(ctx, args); err != nil {
			t.Fatalf("KnowledgeExtraction: %v", err)
		}
		if len(chat.CompleteCalls) != 1 {
			t.Fatalf("llm calls = %d, want 1", len(chat.CompleteCalls))
		}
		prompt := chat.CompleteCalls[0].Req.Messages[0].Content
		if strings.Contains(prompt, "tell me more about it") {
			t.Error("bot turns leaked into the extraction prompt")
		}
	})
}

func TestPipeline_PreferenceExtraction(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "```json\n{\"nickname\": \"Mark\", \"verbosity\": \"short\",}\n```",
	}}
	p, coll, rel := newTestPipeline(chat)
	args := seedSession(t, coll, "u1", "s1", start,
		"Please call me Mark, and keep your answers short")

	if err := p.PreferenceExtraction(ctx, args); err != nil {
		t.Fatalf("PreferenceExtraction: %v", err)
	}
	if got := rel.pref("u1", "nickname"); got != "Mark" {
		t.Errorf("nickname = %v, want Mark", got)
	}
	if got := rel.pref("u1", "verbosity"); got != "short" {
		t.Errorf("verbosity = %v, want short", got)
	}

	// Re-running with the same output must not rewrite unchanged keys.
	before := rel.updates
	if err := p.PreferenceExtraction(ctx, args); err != nil {
		t.Fatalf("PreferenceExtraction: %v", err)
	}
	if rel.updates != before {
		t.Errorf("unchanged preferences rewritten: %d extra updates", rel.updates-before)
	}
}

func TestPipeline_GoalAnalysis(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"goal": "finish the thesis", "status": "active", "progress": 0.6}]`,
	}}
	p, coll, rel := newTestPipeline(chat)
	args := seedSession(t, coll, "u1", "s1", start,
		"Thesis is going better, I think I am about 60 percent done now")

	if err := p.GoalAnalysis(ctx, args); err != nil {
		t.Fatalf("GoalAnalysis: %v", err)
	}
	goals, ok := rel.pref("u1", "goals").([]Goal)
	if !ok || len(goals) != 1 {
		t.Fatalf("goals = %#v, want one entry", rel.pref("u1", "goals"))
	}
	if goals[0].Goal != "finish the thesis" || goals[0].Progress != 0.6 {
		t.Errorf("unexpected goal: %+v", goals[0])
	}
}

func TestPipeline_Summarization(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{}
	p, coll, _ := newTestPipeline(chat)
	args := seedSession(t, coll, "u1", "s1", start,
		"I spent the whole morning at the aquarium watching the octopus exhibit.",
		"The octopus solved the puzzle feeder faster than last week.",
		"I am thinking about volunteering there on weekends.")

	if err := p.Summarization(ctx, args); err != nil {
		t.Fatalf("Summarization: %v", err)
	}

	sums := entriesOfType(coll, memory.TypeSummary)
	if len(sums) != 1 {
		t.Fatalf("summary entries = %d, want 1", len(sums))
	}
	s := sums[0]
	if s.UserID != "u1" || s.SessionID != "s1" || s.Content == "" {
		t.Errorf("unexpected summary entry: %+v", s)
	}
	// Extractive: the summary must be built from the conversation's own words.
	if !strings.Contains(strings.ToLower(s.Content), "octopus") &&
		!strings.Contains(strings.ToLower(s.Content), "volunteering") &&
		!strings.Contains(strings.ToLower(s.Content), "aquarium") {
		t.Errorf("summary is not extractive: %q", s.Content)
	}
	if len(chat.CompleteCalls) != 0 {
		t.Errorf("summarization used the LLM %d times, want 0", len(chat.CompleteCalls))
	}
}

func TestPipeline_SummarizationRecordsMood(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	p, coll, rel := newTestPipeline(&llmmock.Provider{})
	args := seedSession(t, coll, "u1", "s1", start,
		"I finally got the aquarium volunteering slot!",
		"Honestly the best news I have had all month.",
		"Though the commute is going to be rough.")

	// Tag the user's turns: joy twice, sadness once.
	emotions := map[string]memory.EmotionMetadata{
		"s1-u0": {PrimaryEmotion: "joy", Intensity: 0.9},
		"s1-u1": {PrimaryEmotion: "joy", Intensity: 0.7},
		"s1-u2": {PrimaryEmotion: "sadness", Intensity: 1.0},
	}
	var tagged []memory.Memory
	for _, e := range coll.All() {
		if emo, ok := emotions[e.ID]; ok {
			e.Emotion = emo
			tagged = append(tagged, e)
		}
	}
	if err := coll.Upsert(ctx, tagged); err != nil {
		t.Fatalf("tag emotions: %v", err)
	}

	if err := p.Summarization(ctx, args); err != nil {
		t.Fatalf("Summarization: %v", err)
	}

	if rel.moods["u1"] != "joy" {
		t.Errorf("mood = %q, want the dominant joy", rel.moods["u1"])
	}
	if got := rel.intensities["u1"]; got < 0.79 || got > 0.81 {
		t.Errorf("mood intensity = %v, want mean 0.8", got)
	}
}

func TestSessionMood(t *testing.T) {
	t.Run("neutral-only session has no mood", func(t *testing.T) {
		msgs := []memory.Memory{
			{Role: memory.RoleUser, Emotion: memory.EmotionMetadata{PrimaryEmotion: "neutral"}},
			{Role: memory.RoleUser},
		}
		if mood, _ := sessionMood(msgs); mood != "" {
			t.Errorf("mood = %q, want none", mood)
		}
	})

	t.Run("bot turns do not vote", func(t *testing.T) {
		msgs := []memory.Memory{
			{Role: memory.RoleUser, Emotion: memory.EmotionMetadata{PrimaryEmotion: "sadness", Intensity: 0.5}},
			{Role: memory.RoleBot, Emotion: memory.EmotionMetadata{PrimaryEmotion: "joy", Intensity: 1}},
			{Role: memory.RoleBot, Emotion: memory.EmotionMetadata{PrimaryEmotion: "joy", Intensity: 1}},
		}
		mood, intensity := sessionMood(msgs)
		if mood != "sadness" || intensity != 0.5 {
			t.Errorf("mood = %q/%v, want sadness/0.5", mood, intensity)
		}
	})
}

func TestPipeline_Reflection(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"patterns": ["brings up work stress late at night"], "observation": "They use humor to deflect when stressed."}`,
	}}
	p, coll, _ := newTestPipeline(chat)
	seedSession(t, coll, "u1", "s1", start,
		"Work was brutal again today, but at least the coffee machine survived")

	if err := p.Reflection(ctx, ReflectionArgs{UserID: "u1", Bot: "elena"}); err != nil {
		t.Fatalf("Reflection: %v", err)
	}

	facts := entriesOfType(coll, memory.TypeFact)
	if len(facts) != 1 {
		t.Fatalf("reflection entries = %d, want 1", len(facts))
	}
	if !strings.Contains(facts[0].Content, "humor to deflect") {
		t.Errorf("reflection content = %q", facts[0].Content)
	}
}

func TestPipeline_InsightAnalysis(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"insight": "They open up more when asked about specifics rather than feelings."}`,
	}}
	p, coll, rel := newTestPipeline(chat)
	seedSession(t, coll, "u1", "s1", start,
		"Honestly the project details are easier to talk about than the rest")

	if err := p.InsightAnalysis(ctx, InsightArgs{UserID: "u1", Bot: "elena", Trigger: "session_end"}); err != nil {
		t.Fatalf("InsightAnalysis: %v", err)
	}
	record, ok := rel.pref("u1", "latest_insight").(map[string]any)
	if !ok {
		t.Fatalf("latest_insight = %#v", rel.pref("u1", "latest_insight"))
	}
	if record["trigger"] != "session_end" || record["text"] == "" {
		t.Errorf("unexpected insight record: %#v", record)
	}
}

func TestPipeline_GraphEnrichment(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	chat := &llmmock.Provider{}
	p, coll, rel := newTestPipeline(chat)
	args := seedSession(t, coll, "u1", "s1", start,
		"Talking about the job search again",
		"Another interview scheduled for Friday",
		"I keep rewriting my resume")

	// Pre-existing counts get merged, not replaced.
	if err := rel.UpdatePreference(ctx, "u1", recurringTopicsKey, map[string]any{"career": float64(4)}); err != nil {
		t.Fatal(err)
	}

	gargs := GraphArgs{
		SessionID: args.SessionID, UserID: args.UserID, Bot: args.Bot,
		SessionStart: args.SessionStart,
	}
	if err := p.GraphEnrichment(ctx, gargs); err != nil {
		t.Fatalf("GraphEnrichment: %v", err)
	}

	merged, ok := rel.pref("u1", recurringTopicsKey).(map[string]float64)
	if !ok {
		t.Fatalf("recurring_topics = %#v", rel.pref("u1", recurringTopicsKey))
	}
	// 6 seeded conversation entries tagged "career" plus the prior count of 4.
	if merged["career"] != 10 {
		t.Errorf("career count = %v, want 10", merged["career"])
	}
	if len(chat.CompleteCalls) != 0 {
		t.Errorf("graph enrichment used the LLM %d times, want 0", len(chat.CompleteCalls))
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		var out []string
		if err := decodeJSON(`["a", "b"]`, &out); err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("fenced with trailing comma", func(t *testing.T) {
		var out map[string]string
		raw := "Here you go:\n```json\n{\"k\": \"v\",}\n```"
		if err := decodeJSON(raw, &out); err != nil {
			t.Fatal(err)
		}
		if out["k"] != "v" {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("no json at all", func(t *testing.T) {
		var out []string
		if err := decodeJSON("I could not find any facts.", &out); err == nil {
			t.Error("expected an error for prose output")
		}
	})
}
