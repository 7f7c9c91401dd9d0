// Package hotctx assembles the always-injected "hot" context for every
// response-path LLM call.
//
// The hot layer consists of six components that are fetched concurrently:
//
//  1. Relevant memories via fidelity-first retrieval.
//  2. Recent conversation history (both roles, chronological).
//  3. Extracted knowledge facts about the user.
//  4. Session summaries from earlier conversations.
//  5. Universe context: gossip heard from other characters.
//  6. The relationship record, including the user's preferred nickname.
//
// Every leg fails closed: an error or timeout on one fetch yields an empty
// section, never a failed response. Use [FormatSystemPrompt] to convert a
// [HotContext] into a system prompt string ready for LLM injection.
package hotctx

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/retrieval"
)

// preferredNameKey is the trust preference holding the user's chosen name.
const preferredNameKey = "preferred_name"

// HotContext is the assembled context injected into every response prompt.
// All fields are optional; callers should check for nil/empty before using.
type HotContext struct {
	// Memories are the fidelity-first retrieval hits for the current query.
	Memories []memory.ScoredMemory

	// History is the recent conversation, chronological, both roles.
	History []memory.Memory

	// Facts are extracted knowledge facts about the user, newest first.
	Facts []memory.Memory

	// Summaries are earlier session summaries, newest first.
	Summaries []memory.Memory

	// Gossip is universe context heard from other characters, newest first.
	Gossip []memory.Memory

	// Relationship is the trust record, or nil when unavailable.
	Relationship *trust.Relationship

	// Nickname is the user's preferred name from trust preferences, if set.
	Nickname string

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Retriever is the query-driven recall leg.
type Retriever interface {
	RetrieveFidelityFirst(ctx context.Context, userID, query string, opts retrieval.Options) ([]memory.ScoredMemory, error)
}

var _ Retriever = (*retrieval.Pipeline)(nil)

// Relationships is the trust-record leg.
type Relationships interface {
	GetRelationship(ctx context.Context, userID string) (*trust.Relationship, error)
}

var _ Relationships = (*trust.Manager)(nil)

// Assembler concurrently fetches all six hot-layer components and combines
// them into a [HotContext].
type Assembler struct {
	retr Retriever
	coll memory.Collection
	rel  Relationships
	warm *PreFetcher
	log  *slog.Logger

	retrOpts     retrieval.Options
	historyLimit int
	factLimit    int
	summaryLimit int
	gossipLimit  int
	legTimeout   time.Duration
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithRetrievalOptions overrides the fidelity-first options used for the
// memory leg. The default enables intelligent ranking and nuance preservation
// with a limit of 10.
func WithRetrievalOptions(opts retrieval.Options) Option {
	return func(a *Assembler) { a.retrOpts = opts }
}

// WithHistoryLimit caps the conversation history leg. Defaults to 20.
func WithHistoryLimit(n int) Option {
	return func(a *Assembler) { a.historyLimit = n }
}

// WithLegTimeout bounds each individual fetch. A leg that exceeds it
// contributes an empty section. Defaults to 2 seconds.
func WithLegTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.legTimeout = d }
}

// WithPreFetcher wires a typing-indicator warm-up cache. When a warm entry
// exists for the user, the history, fact, summary, gossip, and relationship
// legs are served from it without touching the backends.
func WithPreFetcher(p *PreFetcher) Option {
	return func(a *Assembler) { a.warm = p }
}

// WithLogger sets the logger for failed-leg warnings.
func WithLogger(log *slog.Logger) Option {
	return func(a *Assembler) { a.log = log }
}

// NewAssembler creates an [Assembler] with sensible defaults.
func NewAssembler(retr Retriever, coll memory.Collection, rel Relationships, opts ...Option) *Assembler {
	a := &Assembler{
		retr: retr,
		coll: coll,
		rel:  rel,
		log:  slog.Default(),
		retrOpts: retrieval.Options{
			Limit:              10,
			IntelligentRanking: true,
			PreserveNuance:     true,
		},
		historyLimit: 20,
		factLimit:    10,
		summaryLimit: 3,
		gossipLimit:  5,
		legTimeout:   2 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble fetches all six hot-layer components concurrently and returns a
// populated [HotContext]. It never returns an error: a leg that fails or
// times out is logged and its section left empty.
func (a *Assembler) Assemble(ctx context.Context, userID, query string) *HotContext {
	start := time.Now()
	hctx := &HotContext{}

	var warm *warmLegs
	if a.warm != nil {
		warm = a.warm.Take(userID)
	}

	// The group context is deliberately not used for cancellation between
	// legs: one failing leg must not starve the others.
	var eg errgroup.Group

	eg.Go(a.leg(ctx, "memories", func(ctx context.Context) error {
		hits, err := a.retr.RetrieveFidelityFirst(ctx, userID, query, a.retrOpts)
		if err != nil {
			return err
		}
		hctx.Memories = hits
		return nil
	}))

	eg.Go(a.leg(ctx, "history", func(ctx context.Context) error {
		if warm != nil {
			hctx.History = warm.history
			return nil
		}
		entries, err := a.coll.History(ctx, userID, a.historyLimit)
		if err != nil {
			return err
		}
		hctx.History = entries
		return nil
	}))

	eg.Go(a.leg(ctx, "facts", func(ctx context.Context) error {
		if warm != nil {
			hctx.Facts = warm.facts
			return nil
		}
		entries, err := a.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeFact},
		}, a.factLimit)
		if err != nil {
			return err
		}
		hctx.Facts = entries
		return nil
	}))

	eg.Go(a.leg(ctx, "summaries", func(ctx context.Context) error {
		if warm != nil {
			hctx.Summaries = warm.summaries
			return nil
		}
		entries, err := a.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeSummary},
		}, a.summaryLimit)
		if err != nil {
			return err
		}
		hctx.Summaries = entries
		return nil
	}))

	eg.Go(a.leg(ctx, "gossip", func(ctx context.Context) error {
		if warm != nil {
			hctx.Gossip = warm.gossip
			return nil
		}
		entries, err := a.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeGossip},
		}, a.gossipLimit)
		if err != nil {
			return err
		}
		hctx.Gossip = entries
		return nil
	}))

	eg.Go(a.leg(ctx, "relationship", func(ctx context.Context) error {
		var rel *trust.Relationship
		var err error
		if warm != nil && warm.relationship != nil {
			rel = warm.relationship
		} else {
			rel, err = a.rel.GetRelationship(ctx, userID)
			if err != nil {
				return err
			}
		}
		hctx.Relationship = rel
		if rel != nil {
			if name, ok := rel.Preferences[preferredNameKey].(string); ok {
				hctx.Nickname = name
			}
		}
		return nil
	}))

	_ = eg.Wait()
	hctx.AssemblyDuration = time.Since(start)
	return hctx
}

// leg wraps one fetch with the per-leg timeout and fail-closed handling.
// The returned func always reports nil so a failed leg never cancels peers.
func (a *Assembler) leg(ctx context.Context, name string, fetch func(context.Context) error) func() error {
	return func() error {
		legCtx, cancel := context.WithTimeout(ctx, a.legTimeout)
		defer cancel()
		if err := fetch(legCtx); err != nil {
			a.log.Warn("hot context leg failed", "leg", name, "error", err)
		}
		return nil
	}
}
