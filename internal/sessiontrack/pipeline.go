package sessiontrack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/analysis"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/summary"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// minExtractionChars filters out sessions too thin to extract facts from.
const minExtractionChars = 30

// reflectionHistoryLimit bounds how much history pattern analysis reads.
const reflectionHistoryLimit = 40

// sessionFetchLimit bounds how many entries a session batch may hold.
const sessionFetchLimit = 200

// Relationships is the slice of the trust manager the pipeline needs.
type Relationships interface {
	GetRelationship(ctx context.Context, userID string) (*trust.Relationship, error)
	UpdatePreference(ctx context.Context, userID, key string, value any) error
	SetMood(ctx context.Context, userID, mood string, intensity float64) error
}

var _ Relationships = (*trust.Manager)(nil)

// Pipeline holds the worker-side capability handlers. Each handler performs
// at most one LLM round-trip over the whole session batch.
type Pipeline struct {
	coll  memory.Collection
	embed embeddings.Provider
	chat  llm.Provider
	rel   Relationships

	summarise *summary.Summariser
	keys      *analysis.KeyExtractor
	log       *slog.Logger
}

// NewPipeline creates the post-conversation pipeline for one bot's collection.
// keys may be nil for the default topical vocabulary.
func NewPipeline(coll memory.Collection, embed embeddings.Provider, chat llm.Provider, rel Relationships, keys *analysis.KeyExtractor, log *slog.Logger) *Pipeline {
	if keys == nil {
		keys = analysis.NewKeyExtractor(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		coll:      coll,
		embed:     embed,
		chat:      chat,
		rel:       rel,
		summarise: summary.New(embed, keys),
		keys:      keys,
		log:       log,
	}
}

// RegisterHandlers binds every capability task to w.
func (p *Pipeline) RegisterHandlers(w *taskqueue.Worker) {
	w.Register(TaskKnowledgeExtraction, p.handleSession(p.KnowledgeExtraction))
	w.Register(TaskPreferenceExtraction, p.handleSession(p.PreferenceExtraction))
	w.Register(TaskGoalAnalysis, p.handleSession(p.GoalAnalysis))
	w.Register(TaskSummarization, p.handleSession(p.Summarization))
	w.Register(TaskReflection, func(ctx context.Context, job taskqueue.Job) error {
		var args ReflectionArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("sessiontrack: %s: decode args: %w", job.Task, err)
		}
		return p.Reflection(ctx, args)
	})
	w.Register(TaskInsightAnalysis, func(ctx context.Context, job taskqueue.Job) error {
		var args InsightArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("sessiontrack: %s: decode args: %w", job.Task, err)
		}
		return p.InsightAnalysis(ctx, args)
	})
	w.Register(TaskGraphEnrichment, func(ctx context.Context, job taskqueue.Job) error {
		var args GraphArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("sessiontrack: %s: decode args: %w", job.Task, err)
		}
		return p.GraphEnrichment(ctx, args)
	})
}

// handleSession adapts a session-keyed capability into a queue handler.
func (p *Pipeline) handleSession(fn func(context.Context, SessionArgs) error) taskqueue.HandlerFunc {
	return func(ctx context.Context, job taskqueue.Job) error {
		var args SessionArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("sessiontrack: %s: decode args: %w", job.Task, err)
		}
		return fn(ctx, args)
	}
}

// sessionMessages loads the session's conversation batch in chronological
// order. Entries from overlapping sessions are excluded by session id when
// the stored turns carry one.
func (p *Pipeline) sessionMessages(ctx context.Context, args SessionArgs) ([]memory.Memory, error) {
	entries, err := p.coll.Recent(ctx, memory.Filter{
		UserID:      args.UserID,
		MemoryTypes: []memory.MemoryType{memory.TypeConversation},
		After:       args.SessionStart,
	}, sessionFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("sessiontrack: load session %s: %w", args.SessionID, err)
	}
	out := make([]memory.Memory, 0, len(entries))
	// Recent returns newest first; rebuild chronological order.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.SessionID != "" && args.SessionID != "" && e.SessionID != args.SessionID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// humanText concatenates the user's own messages from the batch.
func humanText(msgs []memory.Memory) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role != memory.RoleUser {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

const knowledgePrompt = `Extract stable, long-term facts about the user from their messages below.
Only include facts the user stated about themselves (job, location, family, hobbies, health they volunteered, plans).
Ignore opinions about the conversation, questions, and anything about other people.
Return a JSON array of short self-contained sentences, e.g. ["User works as a nurse", "User has a dog named Rex"].
Return [] if there is nothing stable. Return only the JSON array.

Messages:
%s`

// KnowledgeExtraction extracts stable user facts from the session's human
// messages and stores each as a fact memory.
func (p *Pipeline) KnowledgeExtraction(ctx context.Context, args SessionArgs) error {
	msgs, err := p.sessionMessages(ctx, args)
	if err != nil {
		return err
	}
	text := humanText(msgs)
	if len(text) < minExtractionChars {
		p.log.Debug("session too thin for knowledge extraction",
			"session_id", args.SessionID, "chars", len(text))
		return nil
	}

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: fmt.Sprintf(knowledgePrompt, text)}},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("sessiontrack: knowledge extraction: llm: %w", err)
	}
	var facts []string
	if err := decodeJSON(resp.Content, &facts); err != nil {
		return fmt.Errorf("sessiontrack: knowledge extraction: %w", err)
	}
	facts = dedupeNonEmpty(facts)
	if len(facts) == 0 {
		return nil
	}

	vecs, err := p.embed.EmbedBatch(ctx, facts)
	if err != nil {
		return fmt.Errorf("sessiontrack: knowledge extraction: embed: %w", err)
	}
	if len(vecs) != len(facts) {
		return fmt.Errorf("sessiontrack: knowledge extraction: expected %d vectors, got %d", len(facts), len(vecs))
	}

	now := time.Now()
	entries := make([]memory.Memory, len(facts))
	for i, f := range facts {
		entries[i] = memory.Memory{
			ID:          uuid.NewString(),
			UserID:      args.UserID,
			Role:        memory.RoleSystem,
			Content:     f,
			Timestamp:   now.Add(time.Duration(i) * time.Millisecond),
			SessionID:   args.SessionID,
			MemoryType:  memory.TypeFact,
			SemanticKey: p.keys.Extract(f),
			Vectors:     memory.NamedVectors{Content: vecs[i]},
		}
	}
	if err := p.coll.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("sessiontrack: knowledge extraction: store: %w", err)
	}
	p.log.Info("knowledge extracted",
		"user_id", args.UserID, "session_id", args.SessionID, "facts", len(entries))
	return nil
}

const preferencePrompt = `Extract the user's stated interaction preferences from their messages below.
Look for: what they want to be called, preferred response length or tone, topics to avoid, language.
Return a flat JSON object of string values, e.g. {"nickname": "Mark", "verbosity": "short"}.
Return {} if none are stated. Return only the JSON object.

Messages:
%s`

// PreferenceExtraction extracts preference entries and merges the new ones
// into the user's relationship, skipping keys whose value is unchanged.
func (p *Pipeline) PreferenceExtraction(ctx context.Context, args SessionArgs) error {
	msgs, err := p.sessionMessages(ctx, args)
	if err != nil {
		return err
	}
	text := humanText(msgs)
	if len(text) < minExtractionChars {
		return nil
	}

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: fmt.Sprintf(preferencePrompt, text)}},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("sessiontrack: preference extraction: llm: %w", err)
	}
	var prefs map[string]string
	if err := decodeJSON(resp.Content, &prefs); err != nil {
		return fmt.Errorf("sessiontrack: preference extraction: %w", err)
	}
	if len(prefs) == 0 {
		return nil
	}

	rel, err := p.rel.GetRelationship(ctx, args.UserID)
	if err != nil {
		return fmt.Errorf("sessiontrack: preference extraction: %w", err)
	}
	updated := 0
	for k, v := range prefs {
		if k == "" || v == "" {
			continue
		}
		if cur, ok := rel.Preferences[k]; ok && cur == v {
			continue
		}
		if err := p.rel.UpdatePreference(ctx, args.UserID, k, v); err != nil {
			return fmt.Errorf("sessiontrack: preference extraction: %w", err)
		}
		updated++
	}
	if updated > 0 {
		p.log.Info("preferences updated",
			"user_id", args.UserID, "session_id", args.SessionID, "keys", updated)
	}
	return nil
}

// Goal is one tracked per-user goal.
type Goal struct {
	Goal     string  `json:"goal"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// goalsPreferenceKey is where the goal list lives in relationship preferences.
const goalsPreferenceKey = "goals"

const goalPrompt = `These are the goals the user has previously mentioned, as JSON:
%s

Based on the conversation below, update the list: adjust progress (0.0-1.0) and status
(active|completed|abandoned) of existing goals, and add goals the user newly expressed.
Keep at most 10 goals. Return only the updated JSON array with the same element shape.

Conversation:
%s`

// GoalAnalysis updates per-user goal progress from the session batch.
func (p *Pipeline) GoalAnalysis(ctx context.Context, args SessionArgs) error {
	msgs, err := p.sessionMessages(ctx, args)
	if err != nil {
		return err
	}
	text := humanText(msgs)
	if len(text) < minExtractionChars {
		return nil
	}

	rel, err := p.rel.GetRelationship(ctx, args.UserID)
	if err != nil {
		return fmt.Errorf("sessiontrack: goal analysis: %w", err)
	}
	current, _ := json.Marshal(rel.Preferences[goalsPreferenceKey])
	if string(current) == "null" {
		current = []byte("[]")
	}

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: fmt.Sprintf(goalPrompt, current, text)}},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("sessiontrack: goal analysis: llm: %w", err)
	}
	var goals []Goal
	if err := decodeJSON(resp.Content, &goals); err != nil {
		return fmt.Errorf("sessiontrack: goal analysis: %w", err)
	}
	if len(goals) == 0 {
		return nil
	}
	if len(goals) > 10 {
		goals = goals[:10]
	}
	if err := p.rel.UpdatePreference(ctx, args.UserID, goalsPreferenceKey, goals); err != nil {
		return fmt.Errorf("sessiontrack: goal analysis: %w", err)
	}
	p.log.Info("goals updated",
		"user_id", args.UserID, "session_id", args.SessionID, "goals", len(goals))
	return nil
}

// Summarization builds the extractive session summary and stores it as a
// summary memory tagged with the session's dominant theme.
func (p *Pipeline) Summarization(ctx context.Context, args SessionArgs) error {
	msgs, err := p.sessionMessages(ctx, args)
	if err != nil {
		return err
	}
	if len(msgs) < minPipelineMessages {
		return nil
	}

	if mood, intensity := sessionMood(msgs); mood != "" {
		if err := p.rel.SetMood(ctx, args.UserID, mood, intensity); err != nil {
			p.log.Warn("mood update failed",
				"user_id", args.UserID, "session_id", args.SessionID, "error", err)
		}
	}

	result, err := p.summarise.Summarize(ctx, msgs, 3)
	if err != nil {
		return fmt.Errorf("sessiontrack: summarization: %w", err)
	}
	if strings.TrimSpace(result.TopicSummary) == "" {
		return nil
	}

	vec, err := p.embed.Embed(ctx, result.TopicSummary)
	if err != nil {
		return fmt.Errorf("sessiontrack: summarization: embed: %w", err)
	}
	semanticKey := analysis.GeneralKey
	if len(result.Themes) > 0 {
		semanticKey = result.Themes[0]
	}
	entry := memory.Memory{
		ID:          uuid.NewString(),
		UserID:      args.UserID,
		Role:        memory.RoleSystem,
		Content:     result.TopicSummary,
		Timestamp:   time.Now(),
		SessionID:   args.SessionID,
		MemoryType:  memory.TypeSummary,
		SemanticKey: semanticKey,
		Vectors:     memory.NamedVectors{Content: vec},
	}
	if err := p.coll.Upsert(ctx, []memory.Memory{entry}); err != nil {
		return fmt.Errorf("sessiontrack: summarization: store: %w", err)
	}
	p.log.Info("session summarized",
		"user_id", args.UserID, "session_id", args.SessionID,
		"sentences", result.SentencesAnalyzed, "themes", result.Themes)
	return nil
}

const reflectionPrompt = `You are reviewing your recent conversations with one user to understand them better.
Below is the recent history, oldest first. Identify recurring patterns: what they keep coming
back to, how their mood trends, what they respond well to.
Return a JSON object: {"patterns": [up to 3 short strings], "observation": one sentence}.
Return only the JSON object.

History:
%s`

// Reflection runs pattern analysis across the user's recent history and
// stores the result as a fact memory so retrieval can surface it.
func (p *Pipeline) Reflection(ctx context.Context, args ReflectionArgs) error {
	history, err := p.coll.History(ctx, args.UserID, reflectionHistoryLimit)
	if err != nil {
		return fmt.Errorf("sessiontrack: reflection: history: %w", err)
	}
	if len(history) < minPipelineMessages {
		return nil
	}

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf(reflectionPrompt, renderHistory(history)),
		}},
		Temperature: 0.4,
	})
	if err != nil {
		return fmt.Errorf("sessiontrack: reflection: llm: %w", err)
	}
	var out struct {
		Patterns    []string `json:"patterns"`
		Observation string   `json:"observation"`
	}
	if err := decodeJSON(resp.Content, &out); err != nil {
		return fmt.Errorf("sessiontrack: reflection: %w", err)
	}
	if strings.TrimSpace(out.Observation) == "" {
		return nil
	}

	content := out.Observation
	if len(out.Patterns) > 0 {
		content += " Patterns: " + strings.Join(out.Patterns, "; ")
	}
	vec, err := p.embed.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("sessiontrack: reflection: embed: %w", err)
	}
	entry := memory.Memory{
		ID:          uuid.NewString(),
		UserID:      args.UserID,
		Role:        memory.RoleSystem,
		Content:     content,
		Timestamp:   time.Now(),
		MemoryType:  memory.TypeFact,
		SemanticKey: p.keys.Extract(content),
		Vectors:     memory.NamedVectors{Content: vec},
	}
	if err := p.coll.Upsert(ctx, []memory.Memory{entry}); err != nil {
		return fmt.Errorf("sessiontrack: reflection: store: %w", err)
	}
	return nil
}

const insightPrompt = `Review the history below and produce ONE higher-level insight about this user
that would genuinely change how you talk to them (not a restatement of a fact).
Return a JSON object: {"insight": one or two sentences}. Return only the JSON object.

History:
%s`

// InsightAnalysis extracts one higher-level insight and records it in the
// relationship preferences. Throttling is handled by the job id upstream.
func (p *Pipeline) InsightAnalysis(ctx context.Context, args InsightArgs) error {
	history, err := p.coll.History(ctx, args.UserID, reflectionHistoryLimit)
	if err != nil {
		return fmt.Errorf("sessiontrack: insight: history: %w", err)
	}
	if len(history) < minPipelineMessages {
		return nil
	}

	resp, err := p.chat.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf(insightPrompt, renderHistory(history)),
		}},
		Temperature: 0.5,
	})
	if err != nil {
		return fmt.Errorf("sessiontrack: insight: llm: %w", err)
	}
	var out struct {
		Insight string `json:"insight"`
	}
	if err := decodeJSON(resp.Content, &out); err != nil {
		return fmt.Errorf("sessiontrack: insight: %w", err)
	}
	if strings.TrimSpace(out.Insight) == "" {
		return nil
	}

	record := map[string]any{
		"text":    out.Insight,
		"trigger": args.Trigger,
		"at":      time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.rel.UpdatePreference(ctx, args.UserID, "latest_insight", record); err != nil {
		return fmt.Errorf("sessiontrack: insight: %w", err)
	}
	p.log.Info("insight recorded", "user_id", args.UserID, "trigger", args.Trigger)
	return nil
}

// recurringTopicsKey is where per-user topic counts live in preferences.
const recurringTopicsKey = "recurring_topics"

// GraphEnrichment tallies the session's topical keys into the user's
// recurring-topic counts. Purely mechanical, no LLM round-trip.
func (p *Pipeline) GraphEnrichment(ctx context.Context, args GraphArgs) error {
	msgs, err := p.sessionMessages(ctx, SessionArgs{
		UserID:       args.UserID,
		Bot:          args.Bot,
		SessionID:    args.SessionID,
		SessionStart: args.SessionStart,
	})
	if err != nil {
		return err
	}
	if len(msgs) < graphMinMessages {
		return nil
	}

	counts := make(map[string]float64)
	for _, m := range msgs {
		if m.SemanticKey == "" || m.SemanticKey == analysis.GeneralKey {
			continue
		}
		counts[m.SemanticKey]++
	}
	if len(counts) == 0 {
		return nil
	}

	rel, err := p.rel.GetRelationship(ctx, args.UserID)
	if err != nil {
		return fmt.Errorf("sessiontrack: graph enrichment: %w", err)
	}
	merged := make(map[string]float64)
	if prev, ok := rel.Preferences[recurringTopicsKey].(map[string]any); ok {
		for k, v := range prev {
			if n, ok := v.(float64); ok {
				merged[k] = n
			}
		}
	}
	for k, n := range counts {
		merged[k] += n
	}
	if err := p.rel.UpdatePreference(ctx, args.UserID, recurringTopicsKey, merged); err != nil {
		return fmt.Errorf("sessiontrack: graph enrichment: %w", err)
	}
	p.log.Info("recurring topics updated",
		"user_id", args.UserID, "session_id", args.SessionID, "topics", topicList(merged))
	return nil
}

// sessionMood tallies the user's emotions across the batch and returns the
// dominant label with its average intensity. Neutral-only sessions yield "".
func sessionMood(msgs []memory.Memory) (string, float64) {
	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, m := range msgs {
		if m.Role != memory.RoleUser {
			continue
		}
		label := m.Emotion.PrimaryEmotion
		if label == "" || label == analysis.EmotionNeutral {
			continue
		}
		counts[label]++
		sums[label] += m.Emotion.Intensity
	}

	best, bestN := "", 0
	for label, n := range counts {
		if n > bestN || (n == bestN && label < best) {
			best, bestN = label, n
		}
	}
	if best == "" {
		return "", 0
	}
	return best, sums[best] / float64(counts[best])
}

// renderHistory formats history entries for a prompt, oldest first.
func renderHistory(history []memory.Memory) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case memory.RoleUser:
			b.WriteString("user: ")
		case memory.RoleBot:
			b.WriteString("you: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// decodeJSON unmarshals LLM output into v, trimming surrounding prose and
// repairing almost-JSON before giving up.
func decodeJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if i := strings.IndexAny(text, "[{"); i >= 0 {
		if j := strings.LastIndexAny(text, "]}"); j > i {
			text = text[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return fmt.Errorf("parse llm json: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), v); err != nil {
			return fmt.Errorf("parse llm json after repair: %w", err)
		}
	}
	return nil
}

// dedupeNonEmpty drops empty and duplicate strings, preserving order.
func dedupeNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// topicList renders topic counts as sorted "key:count" pairs for logging.
func topicList(counts map[string]float64) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s:%.0f", k, counts[k])
	}
	return out
}
