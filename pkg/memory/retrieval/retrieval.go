// Package retrieval implements the fidelity-first memory retrieval pipeline.
//
// The pipeline's guiding principle is to preserve character and conversation
// nuance and reduce only when necessary. A query is routed to one of the named
// vector facets (emotion, semantic, or content), over-fetched, optionally
// rescored by a weighted blend of relevance signals, and only then reduced —
// first by dropping low-significance entries, then by truncating content,
// never by dropping whole defining-tier memories.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/analysis"
	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
)

// overfetchFactor is how many times the requested limit is pulled from the
// primary vector before ranking and filtering reduce the set.
const overfetchFactor = 3

// nuanceScanLimit bounds the secondary search used to locate a defining-tier
// memory when nuance preservation is enabled and the primary recall missed one.
const nuanceScanLimit = 50

// Ranking weights for intelligent rescoring. They sum to 1 and every signal
// contributes additively, so no single signal can zero out another.
const (
	weightPrimary   = 0.40
	weightTier      = 0.20
	weightRecency   = 0.15
	weightNuance    = 0.15
	weightEmotional = 0.10
)

// recencyHalfLife controls the exponential decay of the recency signal.
const recencyHalfLife = 7 * 24 * time.Hour

// Options configures a fidelity-first retrieval call.
type Options struct {
	// Limit is the maximum number of memories returned. Values <= 0 default to 10.
	Limit int

	// EmotionHint is an optional transformer-classifier result for the query.
	// When present and confident it forces emotion-vector routing.
	EmotionHint *analysis.EmotionHint

	// IntelligentRanking enables the weighted multi-signal rescore.
	IntelligentRanking bool

	// GraduatedFiltering enables budget-driven reduction. It only takes effect
	// when ContextBudget is set.
	GraduatedFiltering bool

	// ContextBudget is the rough context budget in characters of memory content.
	// Zero means unbudgeted: nothing is dropped or truncated.
	ContextBudget int

	// PreserveNuance guarantees at least one defining-tier memory in the result
	// whenever the user has one, even if it scored below the cutoff.
	PreserveNuance bool
}

// Pipeline routes, ranks, and filters memory searches for one bot collection.
type Pipeline struct {
	coll  memory.Collection
	embed embeddings.Provider
	keys  *analysis.KeyExtractor
	log   *slog.Logger
}

// New creates a retrieval pipeline over coll using embed for query vectors.
// keys may be nil, in which case the default topical vocabulary is used.
func New(coll memory.Collection, embed embeddings.Provider, keys *analysis.KeyExtractor, log *slog.Logger) *Pipeline {
	if keys == nil {
		keys = analysis.NewKeyExtractor(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{coll: coll, embed: embed, keys: keys, log: log}
}

// Route decides which named vector serves the query and records why.
// Priority: caller-supplied emotion hint, keyword emotion detection, semantic
// key match, content fallback.
func (p *Pipeline) Route(query string, hint *analysis.EmotionHint) (memory.Facet, string) {
	if hint != nil && hint.Label != "" && hint.Label != analysis.EmotionNeutral {
		return memory.FacetEmotion, analysis.RobertaSource(hint.Label)
	}
	if res := analysis.DetectKeywordEmotion(query); res.Label != analysis.EmotionNeutral {
		return memory.FacetEmotion, analysis.SourceKeyword
	}
	if key := p.keys.Extract(query); key != analysis.GeneralKey {
		return memory.FacetSemantic, analysis.SourceSemanticRoute
	}
	return memory.FacetContent, analysis.SourceContentDefault
}

// Retrieve performs single-vector semantic recall over the content facet.
func (p *Pipeline) Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := p.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	hits, err := p.coll.SearchVector(ctx, memory.FacetContent, vec, memory.Filter{UserID: userID}, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	for i := range hits {
		hits[i].SearchType = memory.SearchContent
		hits[i].EmotionSource = analysis.SourceContentDefault
	}
	return hits, nil
}

// RetrieveContextAware routes the query to an emotion- or semantic-preferred
// vector and returns plain ranked hits without rescoring or filtering.
func (p *Pipeline) RetrieveContextAware(ctx context.Context, userID, query string, limit int, hint *analysis.EmotionHint) ([]memory.ScoredMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	facet, source := p.Route(query, hint)
	vec, err := p.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	hits, err := p.coll.SearchVector(ctx, facet, vec, memory.Filter{UserID: userID}, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search %s: %w", facet, err)
	}
	searchType := searchTypeFor(facet)
	for i := range hits {
		hits[i].SearchType = searchType
		hits[i].EmotionSource = source
	}
	return hits, nil
}

// RetrieveFidelityFirst runs the full pipeline: vector routing, over-fetch,
// intelligent ranking, graduated filtering, and nuance preservation.
func (p *Pipeline) RetrieveFidelityFirst(ctx context.Context, userID, query string, opts Options) ([]memory.ScoredMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	facet, source := p.Route(query, opts.EmotionHint)
	vec, err := p.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	hits, err := p.coll.SearchVector(ctx, facet, vec, memory.Filter{UserID: userID}, limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search %s: %w", facet, err)
	}

	now := time.Now()
	for i := range hits {
		hits[i].SearchType = memory.SearchFidelityFirst
		hits[i].EmotionSource = source
		hits[i].FidelityPreserved = true

		nuance := nvector.Cosine(vec, hits[i].Vectors.Get(memory.FacetPersonality))
		if nuance < 0 {
			nuance = 0
		}
		hits[i].CharacterRelevance = nuance
		hits[i].PersonalityAlignment = nuance

		if opts.IntelligentRanking {
			hits[i].Score = p.rescore(hits[i], vec, nuance, now)
		}
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if opts.PreserveNuance {
		hits, err = p.preserveDefining(ctx, userID, vec, facet, source, hits, limit)
		if err != nil {
			// The guarantee is best-effort; the primary result still stands.
			p.log.Warn("defining-tier preservation failed", "error", err)
		}
	}

	if opts.GraduatedFiltering && opts.ContextBudget > 0 {
		hits = applyBudget(hits, opts.ContextBudget)
	}
	return hits, nil
}

// rescore blends the primary cosine with significance, recency, character
// nuance, and emotional alignment. All signals are additive.
func (p *Pipeline) rescore(hit memory.ScoredMemory, queryVec []float32, nuance float64, now time.Time) float64 {
	tier := float64(hit.Significance.Tier.Rank()) / float64(memory.TierDefining.Rank())

	age := now.Sub(hit.Timestamp)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-float64(age) / float64(recencyHalfLife))

	emotional := nvector.Cosine(queryVec, hit.Vectors.Get(memory.FacetEmotion))
	if emotional < 0 {
		emotional = 0
	}

	return weightPrimary*hit.Score +
		weightTier*tier +
		weightRecency*recency +
		weightNuance*nuance +
		weightEmotional*emotional
}

// preserveDefining ensures the result carries at least one defining-tier
// memory when the user's store has one. The weakest non-defining hit makes
// room when the result is already full.
func (p *Pipeline) preserveDefining(ctx context.Context, userID string, queryVec []float32, facet memory.Facet, source string, hits []memory.ScoredMemory, limit int) ([]memory.ScoredMemory, error) {
	for _, h := range hits {
		if h.Significance.Tier == memory.TierDefining {
			return hits, nil
		}
	}
	exists, err := p.coll.HasTier(ctx, userID, memory.TierDefining)
	if err != nil {
		return hits, fmt.Errorf("check defining tier: %w", err)
	}
	if !exists {
		return hits, nil
	}

	scan, err := p.coll.SearchVector(ctx, facet, queryVec, memory.Filter{UserID: userID}, nuanceScanLimit)
	if err != nil {
		return hits, fmt.Errorf("scan for defining tier: %w", err)
	}
	for _, cand := range scan {
		if cand.Significance.Tier != memory.TierDefining {
			continue
		}
		cand.SearchType = memory.SearchFidelityFirst
		cand.EmotionSource = source
		cand.FidelityPreserved = true
		if len(hits) >= limit && limit > 0 {
			hits = hits[:len(hits)-1]
		}
		hits = append(hits, cand)
		sortHits(hits)
		return hits, nil
	}
	return hits, nil
}

// applyBudget reduces hits to fit a character budget: ambient entries drop
// first, then routine, never defining. If the set still exceeds the budget,
// per-entry content is truncated instead of dropping further entries.
func applyBudget(hits []memory.ScoredMemory, budget int) []memory.ScoredMemory {
	for _, tier := range []memory.SignificanceTier{memory.TierAmbient, memory.TierRoutine} {
		for contentSize(hits) > budget {
			idx := weakestOfTier(hits, tier)
			if idx < 0 {
				break
			}
			hits = append(hits[:idx], hits[idx+1:]...)
		}
	}
	if total := contentSize(hits); total > budget && len(hits) > 0 {
		per := budget / len(hits)
		if per < 1 {
			per = 1
		}
		for i := range hits {
			if len(hits[i].Content) > per {
				hits[i].Content = hits[i].Content[:per]
				hits[i].FidelityPreserved = false
			}
		}
	}
	return hits
}

// weakestOfTier returns the index of the lowest-scoring hit of tier, or -1.
func weakestOfTier(hits []memory.ScoredMemory, tier memory.SignificanceTier) int {
	idx := -1
	for i, h := range hits {
		if h.Significance.Tier != tier {
			continue
		}
		if idx < 0 || h.Score < hits[idx].Score {
			idx = i
		}
	}
	return idx
}

func contentSize(hits []memory.ScoredMemory) int {
	total := 0
	for _, h := range hits {
		total += len(h.Content)
	}
	return total
}

// sortHits orders by score, then tier, then recency, then id for determinism.
func sortHits(hits []memory.ScoredMemory) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ri, rj := hits[i].Significance.Tier.Rank(), hits[j].Significance.Tier.Rank()
		if ri != rj {
			return ri > rj
		}
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].ID < hits[j].ID
	})
}

func searchTypeFor(facet memory.Facet) memory.SearchType {
	switch facet {
	case memory.FacetEmotion:
		return memory.SearchEmotion
	case memory.FacetSemantic:
		return memory.SearchSemantic
	default:
		return memory.SearchContent
	}
}
