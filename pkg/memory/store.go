// Package memory defines the bot-scoped, multi-vector memory contract used by
// WhisperEngine characters.
//
// The architecture separates three concerns:
//
//   - Collection ([Collection]): the low-level vector-engine contract for ONE
//     bot's physical collection. Every entry carries seven named 384-dim
//     vectors; similarity search is cosine over a chosen facet with a
//     mandatory user filter.
//   - Store-time analysis (package analysis): emotion classification,
//     significance scoring, semantic-key extraction — derived metadata
//     attached to every entry before it is written.
//   - Retrieval (package retrieval): the fidelity-first pipeline that routes
//     queries to the right facet, over-fetches, re-ranks, and prunes only
//     under an explicit context budget.
//
// Bot isolation is physical: each bot's memories live in their own collection
// (one Postgres table per bot, `whisperengine_memory_<bot>`). A Collection
// handle can never address another bot's data; cross-bot delivery happens
// only through the universe bus, which opens the recipient's own collection.
//
// All interfaces are public so that external packages can supply alternative
// vector backends without depending on internals. Every implementation must
// be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Filter narrows a vector search or scan within a collection.
// UserID is mandatory on every user-facing search path — implementations
// must reject an empty UserID rather than scanning the whole collection.
type Filter struct {
	// UserID restricts results to a single user's memories. Required.
	UserID string

	// MemoryTypes restricts results to the listed entry types.
	// Empty matches all types.
	MemoryTypes []MemoryType

	// Roles restricts results to the listed roles. Empty matches all roles.
	Roles []Role

	// After filters entries recorded after this instant (exclusive).
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	Before time.Time

	// MinScore drops results scoring below this threshold. The zero value
	// keeps every non-negative score.
	MinScore float64
}

// Collection is the vector-engine contract for one bot's physical memory
// collection. Obtain one per bot; the handle is bound to a single collection
// for its lifetime.
//
// Implementations must be safe for concurrent use.
type Collection interface {
	// BotName returns the bot this collection belongs to.
	BotName() string

	// Upsert writes entries into the collection. Each entry must carry all
	// seven named vectors ([NamedVectors.FillMissing] handles absent facets)
	// and a non-empty ID and UserID. Writing an existing ID replaces it.
	Upsert(ctx context.Context, entries []Memory) error

	// SearchVector finds the limit entries whose facet vector is closest
	// (cosine) to query, subject to filter. Results are ordered by
	// descending similarity. Returns an empty (non-nil) slice when nothing
	// matches.
	SearchVector(ctx context.Context, facet Facet, query []float32, filter Filter, limit int) ([]ScoredMemory, error)

	// History returns the most recent limit entries for the user in
	// chronological order (most recent last), both roles included.
	History(ctx context.Context, userID string, limit int) ([]Memory, error)

	// Recent returns up to limit entries matching filter, newest first.
	// Unlike SearchVector this is a pure time scan with no similarity input.
	Recent(ctx context.Context, filter Filter, limit int) ([]Memory, error)

	// LastInteraction returns info about the user's most recent entry, or
	// (nil, nil) when the user has no memories.
	LastInteraction(ctx context.Context, userID string) (*InteractionInfo, error)

	// CountSince counts the user's entries recorded at or after since.
	// Used by session boundary detection.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// HasTier reports whether the user has at least one entry of the given
	// significance tier. Used by character-nuance preservation.
	HasTier(ctx context.Context, userID string, tier SignificanceTier) (bool, error)

	// Health reports backend reachability and collection statistics.
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthStatus is the result of a [Collection.Health] probe.
type HealthStatus struct {
	// Status is "healthy" or "unhealthy".
	Status string

	// Collection is the physical collection name.
	Collection string

	// Entries is the total number of stored memories, when cheap to obtain.
	Entries int64

	// Detail carries the failure description when unhealthy.
	Detail string
}
