package memory

import "time"

// Role identifies who produced a memory entry.
type Role string

const (
	RoleUser            Role = "user"
	RoleBot             Role = "bot"
	RoleSystem          Role = "system"
	RoleKnowledgeImport Role = "knowledge_import"
	RoleSelfReflection  Role = "self_reflection"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleBot, RoleSystem, RoleKnowledgeImport, RoleSelfReflection:
		return true
	}
	return false
}

// MemoryType discriminates what kind of entry a memory is.
type MemoryType string

const (
	TypeConversation   MemoryType = "conversation"
	TypeSelfKnowledge  MemoryType = "bot_self_knowledge"
	TypeSelfReflection MemoryType = "bot_self_reflection"
	TypeGossip         MemoryType = "gossip"
	TypeFact           MemoryType = "fact"
	TypeSummary        MemoryType = "summary"
)

// IsValid reports whether t is a recognised memory type.
func (t MemoryType) IsValid() bool {
	switch t {
	case TypeConversation, TypeSelfKnowledge, TypeSelfReflection, TypeGossip, TypeFact, TypeSummary:
		return true
	}
	return false
}

// SignificanceTier buckets a memory's overall significance score. Graduated
// filtering drops tiers in ascending order and never drops defining memories.
type SignificanceTier string

const (
	TierAmbient  SignificanceTier = "ambient"
	TierRoutine  SignificanceTier = "routine"
	TierNotable  SignificanceTier = "notable"
	TierDefining SignificanceTier = "defining"
)

// Rank returns the ordering of the tier, ambient lowest.
func (t SignificanceTier) Rank() int {
	switch t {
	case TierAmbient:
		return 0
	case TierRoutine:
		return 1
	case TierNotable:
		return 2
	case TierDefining:
		return 3
	}
	return 0
}

// Momentum describes the direction of a user's emotional intensity over the
// last few turns.
type Momentum string

const (
	MomentumAccelerating Momentum = "accelerating"
	MomentumSteady       Momentum = "steady"
	MomentumDecelerating Momentum = "decelerating"
	MomentumReversing    Momentum = "reversing"
)

// Facet names one of the seven per-entry vector spaces.
type Facet string

const (
	FacetContent      Facet = "content"
	FacetEmotion      Facet = "emotion"
	FacetSemantic     Facet = "semantic"
	FacetRelationship Facet = "relationship"
	FacetPersonality  Facet = "personality"
	FacetInteraction  Facet = "interaction"
	FacetTemporal     Facet = "temporal"
)

// Facets lists all seven named vector facets in canonical order.
var Facets = []Facet{
	FacetContent, FacetEmotion, FacetSemantic, FacetRelationship,
	FacetPersonality, FacetInteraction, FacetTemporal,
}

// EmotionMetadata is populated at store time from the emotion classifier and
// the per-user trajectory tracker.
type EmotionMetadata struct {
	// PrimaryEmotion is the authoritative emotion label for this entry.
	PrimaryEmotion string

	// Intensity is the strength of the emotion in [0,1].
	Intensity float64

	// Trajectory is the bounded ordered sequence of the user's last emotion
	// labels (most recent last, capped at ~10).
	Trajectory []string

	// Velocity is the signed per-turn delta of intensity in [-1,1].
	Velocity float64

	// Momentum classifies the direction of the intensity trend.
	Momentum Momentum

	// Stability is 1 minus the variability of recent intensities, in [0,1].
	Stability float64
}

// SignificanceMetadata is populated at store time by the significance scorer.
type SignificanceMetadata struct {
	// Overall is the combined significance score in [0,1].
	Overall float64

	// Factors is the bag of contributing scores keyed by factor name
	// (emotion, novelty, life_event, length, recall_marker, name_reference).
	Factors map[string]float64

	// Tier is the bucket derived from Overall.
	Tier SignificanceTier

	// DecayResistance is how strongly the memory resists age-based pruning,
	// in [0,1].
	DecayResistance float64
}

// NamedVectors holds the seven per-entry vector facets. Every stored memory
// has all seven populated; facets with no distinct signal reuse the content
// vector rather than being stored empty.
type NamedVectors struct {
	Content      []float32
	Emotion      []float32
	Semantic     []float32
	Relationship []float32
	Personality  []float32
	Interaction  []float32
	Temporal     []float32
}

// Get returns the vector for facet f, or nil for an unknown facet.
func (v *NamedVectors) Get(f Facet) []float32 {
	switch f {
	case FacetContent:
		return v.Content
	case FacetEmotion:
		return v.Emotion
	case FacetSemantic:
		return v.Semantic
	case FacetRelationship:
		return v.Relationship
	case FacetPersonality:
		return v.Personality
	case FacetInteraction:
		return v.Interaction
	case FacetTemporal:
		return v.Temporal
	}
	return nil
}

// FillMissing copies the content vector into every facet that is still nil.
// Called before persistence so that no entry is ever stored with an absent
// facet.
func (v *NamedVectors) FillMissing() {
	if v.Emotion == nil {
		v.Emotion = v.Content
	}
	if v.Semantic == nil {
		v.Semantic = v.Content
	}
	if v.Relationship == nil {
		v.Relationship = v.Content
	}
	if v.Personality == nil {
		v.Personality = v.Content
	}
	if v.Interaction == nil {
		v.Interaction = v.Content
	}
	if v.Temporal == nil {
		v.Temporal = v.Content
	}
}

// Memory is the atomic unit stored in a bot's vector collection.
// Memories are never mutated after write; corrections are new entries that
// supersede by recency and significance.
type Memory struct {
	// ID is the opaque stable identifier (a UUID).
	ID string

	// UserID scopes the memory to one end user within the bot's collection.
	UserID string

	// BotName is redundant with the collection but kept queryable.
	BotName string

	Role       Role
	Content    string
	Timestamp  time.Time
	SessionID  string
	MemoryType MemoryType

	// Channel provenance. Optional; empty for DMs and imports.
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorIsBot bool
	ReplyToID   string

	// SemanticKey is the topical tag from the closed vocabulary
	// (e.g. "marine_biology"), or "general".
	SemanticKey string

	Emotion      EmotionMetadata
	Significance SignificanceMetadata

	Vectors NamedVectors
}

// SearchType records which retrieval path produced a scored memory.
type SearchType string

const (
	SearchContent       SearchType = "content"
	SearchEmotion       SearchType = "emotion"
	SearchSemantic      SearchType = "semantic"
	SearchFidelityFirst SearchType = "fidelity_first"
)

// ScoredMemory pairs a retrieved memory with its retrieval metadata.
type ScoredMemory struct {
	Memory

	// Score is the final relevance score (higher is better).
	Score float64

	// SearchType records the retrieval path.
	SearchType SearchType

	// EmotionSource records how the query's vector routing was decided:
	// "roberta:<label>", "keyword_detection", "semantic_routing", or
	// "content_default".
	EmotionSource string

	// FidelityPreserved is false when graduated filtering truncated this
	// entry's content to fit a context budget.
	FidelityPreserved bool

	// CharacterRelevance is the personality-facet similarity between the
	// query and this memory, when intelligent ranking computed it.
	CharacterRelevance float64

	// PersonalityAlignment is the nuance-weighted contribution of
	// CharacterRelevance to the final score.
	PersonalityAlignment float64
}

// InteractionInfo summarises the most recent stored turn for a user.
type InteractionInfo struct {
	Timestamp time.Time
	ChannelID string
	SessionID string
	Role      Role
}

// SummaryResult is the extractive conversation summary contract.
type SummaryResult struct {
	// TopicSummary is the concatenation of the highest-centrality sentences.
	TopicSummary string

	// Themes lists the recurring topical tags found in the conversation.
	Themes []string

	// Method names the algorithm that produced the summary.
	Method string

	// SentencesAnalyzed is how many candidate sentences were scored.
	SentencesAnalyzed int

	// EmotionsDetected tallies the emotion labels seen, most frequent first.
	EmotionsDetected []string
}
