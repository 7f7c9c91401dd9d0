package hotctx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
)

// warmTTL is how long a warm-up survives before it goes stale. Discord
// refreshes the typing indicator roughly every 10 seconds, so a warm entry
// older than this means the user stopped typing.
const warmTTL = 15 * time.Second

// warmLegs holds the query-independent hot-layer components fetched ahead of
// the message.
type warmLegs struct {
	history      []memory.Memory
	facts        []memory.Memory
	summaries    []memory.Memory
	gossip       []memory.Memory
	relationship *trust.Relationship
	fetchedAt    time.Time
}

// PreFetcher warms the query-independent legs of the hot context while the
// user is still typing. The messaging adapter calls [PreFetcher.Warm] on a
// typing event; by the time the message arrives, [Assembler.Assemble] serves
// those legs from the cache and only the retrieval leg hits the backend.
//
// Warm-up failures are swallowed: a missed warm-up just means a normal fetch.
// All exported methods are goroutine-safe.
type PreFetcher struct {
	coll memory.Collection
	rel  Relationships
	log  *slog.Logger
	now  func() time.Time

	historyLimit int
	factLimit    int
	summaryLimit int
	gossipLimit  int

	mu      sync.Mutex
	cache   map[string]*warmLegs
	warming map[string]bool
}

// NewPreFetcher creates a [PreFetcher] over the bot's collection and trust
// store. The limits should match the assembler's so a warm leg is a drop-in
// replacement for a fetched one.
func NewPreFetcher(coll memory.Collection, rel Relationships, log *slog.Logger) *PreFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &PreFetcher{
		coll:         coll,
		rel:          rel,
		log:          log,
		now:          time.Now,
		historyLimit: 20,
		factLimit:    10,
		summaryLimit: 3,
		gossipLimit:  5,
		cache:        make(map[string]*warmLegs),
		warming:      make(map[string]bool),
	}
}

// Warm fetches the query-independent legs for userID and caches them.
// Redundant calls while a fetch is in flight, or while a fresh entry exists,
// are no-ops; Discord re-fires typing events every few seconds.
func (p *PreFetcher) Warm(ctx context.Context, userID string) {
	p.mu.Lock()
	if p.warming[userID] {
		p.mu.Unlock()
		return
	}
	if w, ok := p.cache[userID]; ok && p.now().Sub(w.fetchedAt) < warmTTL {
		p.mu.Unlock()
		return
	}
	p.warming[userID] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.warming, userID)
		p.mu.Unlock()
	}()

	w := &warmLegs{}
	var eg errgroup.Group
	eg.Go(func() error {
		entries, err := p.coll.History(ctx, userID, p.historyLimit)
		if err == nil {
			w.history = entries
		}
		return err
	})
	eg.Go(func() error {
		entries, err := p.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeFact},
		}, p.factLimit)
		if err == nil {
			w.facts = entries
		}
		return err
	})
	eg.Go(func() error {
		entries, err := p.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeSummary},
		}, p.summaryLimit)
		if err == nil {
			w.summaries = entries
		}
		return err
	})
	eg.Go(func() error {
		entries, err := p.coll.Recent(ctx, memory.Filter{
			UserID:      userID,
			MemoryTypes: []memory.MemoryType{memory.TypeGossip},
		}, p.gossipLimit)
		if err == nil {
			w.gossip = entries
		}
		return err
	})
	eg.Go(func() error {
		rel, err := p.rel.GetRelationship(ctx, userID)
		if err == nil {
			w.relationship = rel
		}
		return err
	})

	if err := eg.Wait(); err != nil {
		// A partial warm-up is worse than none: the assembler would serve
		// the empty leg without retrying. Drop the whole entry.
		p.log.Debug("hot context warm-up failed", "user_id", userID, "error", err)
		return
	}

	w.fetchedAt = p.now()
	p.mu.Lock()
	p.cache[userID] = w
	p.mu.Unlock()
}

// Take removes and returns the warm entry for userID if it is still fresh.
func (p *PreFetcher) Take(userID string) *warmLegs {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.cache[userID]
	if !ok {
		return nil
	}
	delete(p.cache, userID)
	if p.now().Sub(w.fetchedAt) >= warmTTL {
		return nil
	}
	return w
}
