// Package conversation provides the high-level, bot-scoped conversation memory
// store: the write path that turns a user/bot exchange into two fully analysed
// multi-vector entries, and the read paths the response pipeline uses.
//
// Derived metadata (emotion, significance, semantic key) is computed once per
// exchange and shared by both turns. Retrieval failures are downgraded to an
// empty result with a log line so the response hot path never blocks on the
// memory backend.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/analysis"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/retrieval"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
)

// Turn is one user/bot exchange to be persisted.
type Turn struct {
	UserID      string
	UserMessage string
	BotResponse string

	// ChannelID and MessageID locate the exchange on the platform. Optional.
	ChannelID string
	MessageID string

	// SessionID groups turns into a conversation session. Optional.
	SessionID string

	// EmotionHint carries a transformer-classifier result for the user message.
	// When confident it overrides keyword detection.
	EmotionHint *analysis.EmotionHint

	// Timestamp defaults to now when zero.
	Timestamp time.Time
}

// Store is the bot-scoped conversation memory facade.
type Store struct {
	coll     memory.Collection
	embed    embeddings.Provider
	pipeline *retrieval.Pipeline

	classifier *analysis.Classifier
	tracker    *analysis.Tracker
	scorer     *analysis.Scorer
	keys       *analysis.KeyExtractor

	log *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithHintThreshold overrides the emotion classifier's hint confidence
// threshold.
func WithHintThreshold(t float64) Option {
	return func(s *Store) { s.classifier = analysis.NewClassifier(t) }
}

// New creates a Store over coll. botCallName is the name users address the
// character by; mentioning it raises a message's significance. keys may be nil
// for the default topical vocabulary.
func New(coll memory.Collection, embed embeddings.Provider, botCallName string, keys *analysis.KeyExtractor, log *slog.Logger, opts ...Option) *Store {
	if keys == nil {
		keys = analysis.NewKeyExtractor(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		coll:       coll,
		embed:      embed,
		pipeline:   retrieval.New(coll, embed, keys, log),
		classifier: analysis.NewClassifier(analysis.DefaultHintThreshold),
		tracker:    analysis.NewTracker(),
		scorer:     analysis.NewScorer(botCallName),
		keys:       keys,
		log:        log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BotName returns the owning bot's collection name.
func (s *Store) BotName() string { return s.coll.BotName() }

// StoreConversation writes two entries, the user turn then the bot turn, with
// shared derived metadata. It returns an error only when embedding or the
// backend write fails; retries are caller-driven.
func (s *Store) StoreConversation(ctx context.Context, turn Turn) error {
	if turn.UserID == "" {
		return fmt.Errorf("conversation: store: user id is empty")
	}
	if turn.UserMessage == "" && turn.BotResponse == "" {
		return fmt.Errorf("conversation: store: both turns are empty")
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	emotion := s.classifier.Classify(turn.UserMessage, turn.EmotionHint)
	emotionMD := s.tracker.Observe(turn.UserID, emotion)
	significance := s.scorer.Score(turn.UserID, turn.UserMessage, emotion.Intensity)
	semanticKey := s.keys.Extract(turn.UserMessage)

	userEntry := memory.Memory{
		ID:           uuid.NewString(),
		UserID:       turn.UserID,
		Role:         memory.RoleUser,
		Content:      turn.UserMessage,
		Timestamp:    ts,
		SessionID:    turn.SessionID,
		MemoryType:   memory.TypeConversation,
		ChannelID:    turn.ChannelID,
		MessageID:    turn.MessageID,
		SemanticKey:  semanticKey,
		Emotion:      emotionMD,
		Significance: significance,
	}
	botEntry := memory.Memory{
		ID:           uuid.NewString(),
		UserID:       turn.UserID,
		Role:         memory.RoleBot,
		Content:      turn.BotResponse,
		Timestamp:    ts.Add(time.Millisecond),
		SessionID:    turn.SessionID,
		MemoryType:   memory.TypeConversation,
		ChannelID:    turn.ChannelID,
		MessageID:    turn.MessageID,
		SemanticKey:  semanticKey,
		Emotion:      emotionMD,
		Significance: significance,
	}

	entries := []memory.Memory{userEntry, botEntry}
	if err := s.embedEntries(ctx, entries, emotion, semanticKey); err != nil {
		return fmt.Errorf("conversation: store: %w", err)
	}
	if err := s.coll.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("conversation: store: %w", err)
	}
	return nil
}

// embedEntries fills the named vectors of each entry. The content facet is the
// embedding of the raw text; the emotion and semantic facets get dedicated
// embeddings when the exchange carries a detected emotion or a topical key,
// and fall back to the content vector otherwise (FillMissing at upsert).
func (s *Store) embedEntries(ctx context.Context, entries []memory.Memory, emotion analysis.EmotionResult, semanticKey string) error {
	texts := make([]string, 0, len(entries)*3)
	// Per entry: content, then optional emotion and semantic views.
	type slot struct{ content, emotion, semantic int }
	slots := make([]slot, len(entries))
	for i, e := range entries {
		sl := slot{content: len(texts), emotion: -1, semantic: -1}
		texts = append(texts, e.Content)
		if e.Content != "" && emotion.Label != analysis.EmotionNeutral {
			sl.emotion = len(texts)
			texts = append(texts, emotion.Label+": "+e.Content)
		}
		if e.Content != "" && semanticKey != analysis.GeneralKey {
			sl.semantic = len(texts)
			texts = append(texts, semanticKey+": "+e.Content)
		}
		slots[i] = sl
	}

	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embed batch: expected %d vectors, got %d", len(texts), len(vecs))
	}

	for i := range entries {
		entries[i].Vectors.Content = vecs[slots[i].content]
		if slots[i].emotion >= 0 {
			entries[i].Vectors.Emotion = vecs[slots[i].emotion]
		}
		if slots[i].semantic >= 0 {
			entries[i].Vectors.Semantic = vecs[slots[i].semantic]
		}
	}
	return nil
}

// RetrieveRelevantMemories is single-vector semantic recall over the content
// facet. Failures return an empty list; the hot path never sees them.
func (s *Store) RetrieveRelevantMemories(ctx context.Context, userID, query string, limit int) []memory.ScoredMemory {
	hits, err := s.pipeline.Retrieve(ctx, userID, query, limit)
	if err != nil {
		s.log.Warn("memory retrieval failed", "bot", s.BotName(), "user_id", userID, "error", err)
		return nil
	}
	return hits
}

// RetrieveRelevantMemoriesFidelityFirst runs the full fidelity-first pipeline.
// Failures return an empty list.
func (s *Store) RetrieveRelevantMemoriesFidelityFirst(ctx context.Context, userID, query string, opts retrieval.Options) []memory.ScoredMemory {
	hits, err := s.pipeline.RetrieveFidelityFirst(ctx, userID, query, opts)
	if err != nil {
		s.log.Warn("fidelity-first retrieval failed", "bot", s.BotName(), "user_id", userID, "error", err)
		return nil
	}
	return hits
}

// RetrieveContextAwareMemories routes to an emotion- or semantic-preferred
// vector based on the query. Failures return an empty list.
func (s *Store) RetrieveContextAwareMemories(ctx context.Context, userID, query string, limit int, hint *analysis.EmotionHint) []memory.ScoredMemory {
	hits, err := s.pipeline.RetrieveContextAware(ctx, userID, query, limit, hint)
	if err != nil {
		s.log.Warn("context-aware retrieval failed", "bot", s.BotName(), "user_id", userID, "error", err)
		return nil
	}
	return hits
}

// SearchMemories performs a content search constrained to the given memory
// types (all types when empty).
func (s *Store) SearchMemories(ctx context.Context, userID, query string, types []memory.MemoryType, limit int) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("conversation: search: %w", err)
	}
	hits, err := s.coll.SearchVector(ctx, memory.FacetContent, vec, memory.Filter{
		UserID:      userID,
		MemoryTypes: types,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: search: %w", err)
	}
	for i := range hits {
		hits[i].SearchType = memory.SearchContent
	}
	return hits, nil
}

// GetConversationHistory returns up to limit conversation turns for the user,
// both roles, oldest first.
func (s *Store) GetConversationHistory(ctx context.Context, userID string, limit int) ([]memory.Memory, error) {
	return s.coll.History(ctx, userID, limit)
}

// GetLastInteractionInfo returns metadata about the most recent stored turn
// for the user, or nil when the user has no history.
func (s *Store) GetLastInteractionInfo(ctx context.Context, userID string) (*memory.InteractionInfo, error) {
	return s.coll.LastInteraction(ctx, userID)
}

// GenerateEmbedding exposes the store's embedding model.
func (s *Store) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return s.embed.Embed(ctx, text)
}

// HealthCheck reports backend health for this bot's collection.
func (s *Store) HealthCheck(ctx context.Context) (memory.HealthStatus, error) {
	return s.coll.Health(ctx)
}
