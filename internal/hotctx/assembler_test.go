package hotctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	memmock "github.com/whisperengine-ai/whisperengine/pkg/memory/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/retrieval"
)

type fakeRetriever struct {
	hits  []memory.ScoredMemory
	err   error
	calls int
}

func (f *fakeRetriever) RetrieveFidelityFirst(_ context.Context, _, _ string, _ retrieval.Options) ([]memory.ScoredMemory, error) {
	f.calls++
	return f.hits, f.err
}

type fakeRelationships struct {
	rel   *trust.Relationship
	err   error
	calls int
}

func (f *fakeRelationships) GetRelationship(_ context.Context, _ string) (*trust.Relationship, error) {
	f.calls++
	return f.rel, f.err
}

func seedCollection(t *testing.T, coll *memmock.Collection) {
	t.Helper()
	now := time.Now().UTC()
	entries := []memory.Memory{
		{ID: "c1", UserID: "u1", Role: memory.RoleUser, Content: "I hate my commute", MemoryType: memory.TypeConversation, Timestamp: now.Add(-3 * time.Minute)},
		{ID: "c2", UserID: "u1", Role: memory.RoleBot, Content: "That sounds draining.", MemoryType: memory.TypeConversation, Timestamp: now.Add(-2 * time.Minute)},
		{ID: "f1", UserID: "u1", Role: memory.RoleSystem, Content: "Works as a nurse", MemoryType: memory.TypeFact, Timestamp: now.Add(-time.Hour)},
		{ID: "s1", UserID: "u1", Role: memory.RoleSystem, Content: "Talked about burnout last week", MemoryType: memory.TypeSummary, Timestamp: now.Add(-7 * 24 * time.Hour)},
		{ID: "g1", UserID: "u1", Role: memory.RoleSystem, AuthorID: "marcus", Content: "marcus mentioned: they got promoted", MemoryType: memory.TypeGossip, Timestamp: now.Add(-time.Hour)},
		{ID: "x1", UserID: "u2", Role: memory.RoleUser, Content: "someone else's memory", MemoryType: memory.TypeConversation, Timestamp: now},
	}
	if err := coll.Upsert(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
}

func TestAssembler_Assemble(t *testing.T) {
	ctx := context.Background()
	coll := memmock.NewCollection("elena")
	seedCollection(t, coll)

	retr := &fakeRetriever{hits: []memory.ScoredMemory{
		{Memory: memory.Memory{ID: "m1", UserID: "u1", Content: "They mentioned night shifts before"}, Score: 0.9},
	}}
	rel := &fakeRelationships{rel: &trust.Relationship{
		BotName:    "elena",
		UserID:     "u1",
		TrustScore: 45,
		Preferences: map[string]any{
			"preferred_name": "Sam",
		},
	}}

	a := NewAssembler(retr, coll, rel)
	hctx := a.Assemble(ctx, "u1", "how was work?")

	if len(hctx.Memories) != 1 {
		t.Errorf("memories = %d, want 1", len(hctx.Memories))
	}
	if len(hctx.History) != 2 {
		t.Errorf("history = %d, want 2", len(hctx.History))
	}
	if len(hctx.History) == 2 && !hctx.History[0].Timestamp.Before(hctx.History[1].Timestamp) {
		t.Error("history not chronological")
	}
	if len(hctx.Facts) != 1 || hctx.Facts[0].Content != "Works as a nurse" {
		t.Errorf("facts = %+v", hctx.Facts)
	}
	if len(hctx.Summaries) != 1 {
		t.Errorf("summaries = %d, want 1", len(hctx.Summaries))
	}
	if len(hctx.Gossip) != 1 || hctx.Gossip[0].AuthorID != "marcus" {
		t.Errorf("gossip = %+v", hctx.Gossip)
	}
	if hctx.Nickname != "Sam" {
		t.Errorf("nickname = %q, want Sam", hctx.Nickname)
	}
	if hctx.Relationship == nil || hctx.Relationship.Stage() != trust.StageFriend {
		t.Errorf("relationship = %+v", hctx.Relationship)
	}
	if hctx.AssemblyDuration <= 0 {
		t.Error("assembly duration not recorded")
	}
}

func TestAssembler_LegsFailClosed(t *testing.T) {
	ctx := context.Background()
	coll := memmock.NewCollection("elena")
	seedCollection(t, coll)

	retr := &fakeRetriever{err: errors.New("vector backend down")}
	rel := &fakeRelationships{err: errors.New("pg down")}

	a := NewAssembler(retr, coll, rel)
	hctx := a.Assemble(ctx, "u1", "how was work?")

	if len(hctx.Memories) != 0 {
		t.Errorf("memories = %d, want 0", len(hctx.Memories))
	}
	if hctx.Relationship != nil || hctx.Nickname != "" {
		t.Errorf("relationship leg not empty: %+v %q", hctx.Relationship, hctx.Nickname)
	}
	// The healthy legs still populate.
	if len(hctx.History) != 2 || len(hctx.Facts) != 1 {
		t.Errorf("healthy legs starved: history=%d facts=%d", len(hctx.History), len(hctx.Facts))
	}
}

func TestAssembler_NewUserIsEmptyNotFailed(t *testing.T) {
	ctx := context.Background()
	coll := memmock.NewCollection("elena")

	a := NewAssembler(&fakeRetriever{}, coll, &fakeRelationships{})
	hctx := a.Assemble(ctx, "fresh", "hi!")

	if len(hctx.Memories) != 0 || len(hctx.History) != 0 || len(hctx.Facts) != 0 {
		t.Errorf("unexpected context for new user: %+v", hctx)
	}
}

func TestAssembler_UsesWarmLegs(t *testing.T) {
	ctx := context.Background()
	coll := memmock.NewCollection("elena")
	seedCollection(t, coll)

	rel := &fakeRelationships{rel: &trust.Relationship{UserID: "u1", TrustScore: 10}}
	pf := NewPreFetcher(coll, rel, nil)
	pf.Warm(ctx, "u1")
	if rel.calls != 1 {
		t.Fatalf("warm-up relationship calls = %d, want 1", rel.calls)
	}

	a := NewAssembler(&fakeRetriever{}, coll, rel, WithPreFetcher(pf))
	hctx := a.Assemble(ctx, "u1", "how was work?")

	// The relationship leg was served from the warm entry, not refetched.
	if rel.calls != 1 {
		t.Errorf("relationship calls = %d, want 1", rel.calls)
	}
	if len(hctx.History) != 2 || len(hctx.Facts) != 1 || len(hctx.Gossip) != 1 {
		t.Errorf("warm legs incomplete: history=%d facts=%d gossip=%d",
			len(hctx.History), len(hctx.Facts), len(hctx.Gossip))
	}

	// The warm entry is single-use.
	a.Assemble(ctx, "u1", "and today?")
	if rel.calls != 2 {
		t.Errorf("relationship calls = %d, want 2 after warm entry consumed", rel.calls)
	}
}
