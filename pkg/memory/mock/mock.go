// Package mock provides an in-memory test double for the memory.Collection
// interface.
//
// Use Collection in unit tests to exercise store and retrieval logic without
// a PostgreSQL backend. Search scoring is true cosine similarity computed
// in-process, so ranking behaviour matches the real backend for normalised
// vectors.
//
// Example:
//
//	coll := mock.NewCollection("elena")
//	_ = coll.Upsert(ctx, entries)
//	hits, _ := coll.SearchVector(ctx, memory.FacetContent, vec, filter, 10)
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
)

// Compile-time interface check.
var _ memory.Collection = (*Collection)(nil)

// Collection is an in-memory implementation of memory.Collection.
// Set Err fields to inject failures. Safe for concurrent use.
type Collection struct {
	mu      sync.Mutex
	bot     string
	entries map[string]memory.Memory

	// UpsertErr, if non-nil, is returned by Upsert.
	UpsertErr error

	// SearchErr, if non-nil, is returned by SearchVector.
	SearchErr error

	// UpsertCalls records every batch passed to Upsert.
	UpsertCalls [][]memory.Memory
}

// NewCollection creates an empty mock collection for bot.
func NewCollection(bot string) *Collection {
	return &Collection{bot: bot, entries: make(map[string]memory.Memory)}
}

// BotName implements memory.Collection.
func (c *Collection) BotName() string { return c.bot }

// Len returns the number of stored entries.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// All returns a copy of every stored entry, unordered.
func (c *Collection) All() []memory.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]memory.Memory, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Upsert implements memory.Collection.
func (c *Collection) Upsert(_ context.Context, entries []memory.Memory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpsertCalls = append(c.UpsertCalls, entries)
	if c.UpsertErr != nil {
		return c.UpsertErr
	}
	for i := range entries {
		e := entries[i]
		e.Vectors.FillMissing()
		e.BotName = c.bot
		c.entries[e.ID] = e
	}
	return nil
}

// SearchVector implements memory.Collection using in-process cosine.
func (c *Collection) SearchVector(_ context.Context, facet memory.Facet, query []float32, filter memory.Filter, limit int) ([]memory.ScoredMemory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}
	if limit <= 0 {
		limit = 10
	}

	var hits []memory.ScoredMemory
	for _, e := range c.entries {
		if !matches(e, filter) {
			continue
		}
		score := nvector.Cosine(query, e.Vectors.Get(facet))
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		if score < 0 {
			continue
		}
		hits = append(hits, memory.ScoredMemory{
			Memory:            e,
			Score:             score,
			FidelityPreserved: true,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []memory.ScoredMemory{}
	}
	return hits, nil
}

// History implements memory.Collection.
func (c *Collection) History(_ context.Context, userID string, limit int) ([]memory.Memory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var out []memory.Memory
	for _, e := range c.entries {
		if e.UserID == userID && e.MemoryType == memory.TypeConversation {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []memory.Memory{}
	}
	return out, nil
}

// Recent implements memory.Collection: filter scan, newest first.
func (c *Collection) Recent(_ context.Context, filter memory.Filter, limit int) ([]memory.Memory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var out []memory.Memory
	for _, e := range c.entries {
		if !matches(e, filter) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []memory.Memory{}
	}
	return out, nil
}

// LastInteraction implements memory.Collection.
func (c *Collection) LastInteraction(_ context.Context, userID string) (*memory.InteractionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var latest *memory.Memory
	for id := range c.entries {
		e := c.entries[id]
		if e.UserID != userID {
			continue
		}
		if latest == nil || e.Timestamp.After(latest.Timestamp) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &memory.InteractionInfo{
		Timestamp: latest.Timestamp,
		ChannelID: latest.ChannelID,
		SessionID: latest.SessionID,
		Role:      latest.Role,
	}, nil
}

// CountSince implements memory.Collection.
func (c *Collection) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// HasTier implements memory.Collection.
func (c *Collection) HasTier(_ context.Context, userID string, tier memory.SignificanceTier) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.UserID == userID && e.Significance.Tier == tier {
			return true, nil
		}
	}
	return false, nil
}

// Health implements memory.Collection.
func (c *Collection) Health(_ context.Context) (memory.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return memory.HealthStatus{
		Status:     "healthy",
		Collection: "mock_" + c.bot,
		Entries:    int64(len(c.entries)),
	}, nil
}

// matches applies filter to one entry (UserID, types, roles, time range).
func matches(e memory.Memory, f memory.Filter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.MemoryTypes) > 0 && !containsType(f.MemoryTypes, e.MemoryType) {
		return false
	}
	if len(f.Roles) > 0 && !containsRole(f.Roles, e.Role) {
		return false
	}
	if !f.After.IsZero() && !e.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

func containsType(ts []memory.MemoryType, t memory.MemoryType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsRole(rs []memory.Role, r memory.Role) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}
