package respond

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/hotctx"
	"github.com/whisperengine-ai/whisperengine/internal/sessiontrack"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/internal/universe"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/conversation"
	memmock "github.com/whisperengine-ai/whisperengine/pkg/memory/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/retrieval"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	llmmock "github.com/whisperengine-ai/whisperengine/pkg/provider/llm/mock"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

type stubRetriever struct{}

func (stubRetriever) RetrieveFidelityFirst(context.Context, string, string, retrieval.Options) ([]memory.ScoredMemory, error) {
	return nil, nil
}

type fakeTrust struct {
	mu        sync.Mutex
	rel       *trust.Relationship
	milestone string
	events    []trust.Event
	unlocked  []string
}

func (f *fakeTrust) GetRelationship(context.Context, string) (*trust.Relationship, error) {
	return f.rel, nil
}

func (f *fakeTrust) UpdateTrust(_ context.Context, _ string, event trust.Event, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.milestone, nil
}

func (f *fakeTrust) UnlockTrait(_ context.Context, _, trait string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, trait)
	return nil
}

type fakeSessions struct {
	checks int
}

func (f *fakeSessions) Observe(context.Context, string, string) sessiontrack.Session {
	return sessiontrack.Session{ID: "sess-1", Start: time.Now()}
}

func (f *fakeSessions) CheckAndSummarize(context.Context, string) (bool, error) {
	f.checks++
	return false, nil
}

type fakeStore struct {
	turns []conversation.Turn
}

func (f *fakeStore) StoreConversation(_ context.Context, turn conversation.Turn) error {
	f.turns = append(f.turns, turn)
	return nil
}

type fakePublisher struct {
	events []types.UniverseEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev types.UniverseEvent) (bool, error) {
	f.events = append(f.events, ev)
	return true, nil
}

type harness struct {
	responder *Responder
	sink      *fakeSink
	trust     *fakeTrust
	sessions  *fakeSessions
	store     *fakeStore
	bus       *fakePublisher
	chat      *llmmock.Provider
}

func newHarness(t *testing.T, chat *llmmock.Provider) *harness {
	t.Helper()
	def, err := character.LoadFromReader(strings.NewReader("name: Elena\npersona: You are Elena, a marine biologist."))
	if err != nil {
		t.Fatal(err)
	}

	tr := &fakeTrust{rel: &trust.Relationship{UserID: "u1", TrustScore: 10, Preferences: map[string]any{}}}
	asm := hotctx.NewAssembler(stubRetriever{}, memmock.NewCollection("elena"), tr)
	sink := newFakeSink()
	h := &harness{
		sink:     sink,
		trust:    tr,
		sessions: &fakeSessions{},
		store:    &fakeStore{},
		bus:      &fakePublisher{},
		chat:     chat,
	}
	h.responder = New(
		def, asm, h.store, tr, h.sessions,
		universe.NewDetector("elena"), h.bus,
		chat, NewStreamer(sink, WithEditInterval(0)), nil,
	)
	return h
}

func inbound(content string) types.InboundMessage {
	return types.InboundMessage{
		ID:         "msg-1",
		AuthorID:   "u1",
		AuthorName: "Sam",
		Content:    content,
		ChannelID:  "c1",
		Timestamp:  time.Now().UTC(),
	}
}

func chunks(texts ...string) []llm.Chunk {
	out := make([]llm.Chunk, len(texts))
	for i, t := range texts {
		out[i] = llm.Chunk{Text: t}
	}
	return out
}

func TestResponder_Respond(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("Hey ", "Sam!")})
		h.responder.Respond(ctx, inbound("hello!"))

		if len(h.sink.sends) != 1 || h.sink.finalContent(0) != "Hey Sam!" {
			t.Errorf("sends = %v", h.sink.sends)
		}
		if len(h.store.turns) != 1 {
			t.Fatalf("turns = %d, want 1", len(h.store.turns))
		}
		turn := h.store.turns[0]
		if turn.UserMessage != "hello!" || turn.BotResponse != "Hey Sam!" || turn.SessionID != "sess-1" {
			t.Errorf("turn = %+v", turn)
		}
		if len(h.trust.events) != 1 || h.trust.events[0] != trust.EventPositiveTurn {
			t.Errorf("trust events = %v", h.trust.events)
		}
		if h.sessions.checks != 1 {
			t.Errorf("session checks = %d, want 1", h.sessions.checks)
		}
		if len(h.bus.events) != 0 {
			t.Errorf("universe events = %v", h.bus.events)
		}
	})

	t.Run("moderation timeout gets a cold line and no processing", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("should not run")})
		until := time.Now().Add(time.Hour)
		h.trust.rel.ModerationUntil = &until

		h.responder.Respond(ctx, inbound("hello?"))

		if len(h.sink.sends) != 1 {
			t.Fatalf("sends = %d, want 1", len(h.sink.sends))
		}
		if h.sink.sends[0] == "should not run" {
			t.Error("timed-out user reached the LLM")
		}
		if len(h.store.turns) != 0 {
			t.Error("cold response was stored")
		}
		if len(h.trust.events) != 0 {
			t.Error("trust updated during timeout")
		}
		if len(h.chat.StreamCalls) != 0 {
			t.Error("LLM called during timeout")
		}
	})

	t.Run("stream failure maps to a scripted error line", func(t *testing.T) {
		chat := &llmmock.Provider{StreamErr: context.DeadlineExceeded}
		h := newHarness(t, chat)

		h.responder.Respond(ctx, inbound("hello!"))

		if len(h.sink.sends) != 1 {
			t.Fatalf("sends = %d, want 1", len(h.sink.sends))
		}
		if len(h.store.turns) != 0 {
			t.Error("failed exchange was stored")
		}
	})

	t.Run("life update publishes a universe event", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("Congratulations!")})
		h.responder.Respond(ctx, inbound("Guess what, I got promoted today!"))

		if len(h.bus.events) != 1 {
			t.Fatalf("universe events = %d, want 1", len(h.bus.events))
		}
		ev := h.bus.events[0]
		if ev.Topic != "job" || ev.UserID != "u1" || ev.SourceBot != "elena" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("vulnerability moment earns the bigger delta", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("Thank you for trusting me.")})
		h.responder.Respond(ctx, inbound("I've never told anyone this before..."))

		if len(h.trust.events) != 1 || h.trust.events[0] != trust.EventVulnerabilityMoment {
			t.Errorf("trust events = %v", h.trust.events)
		}
	})

	t.Run("milestone is announced and traits unlocked", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("Hey!")})
		h.trust.rel.TrustScore = 39
		h.trust.milestone = "I feel like we're really becoming friends."

		h.responder.Respond(ctx, inbound("you're the best"))

		if len(h.sink.sends) != 2 {
			t.Fatalf("sends = %v", h.sink.sends)
		}
		if h.sink.sends[1] != "I feel like we're really becoming friends." {
			t.Errorf("milestone send = %q", h.sink.sends[1])
		}
		if len(h.trust.unlocked) == 0 || h.trust.unlocked[0] != "friendly" {
			t.Errorf("unlocked = %v", h.trust.unlocked)
		}
	})

	t.Run("empty completion maps to a scripted error line", func(t *testing.T) {
		h := newHarness(t, &llmmock.Provider{StreamChunks: chunks("   ")})
		h.responder.Respond(ctx, inbound("hello!"))

		if len(h.sink.sends) != 1 {
			t.Fatalf("sends = %d, want 1", len(h.sink.sends))
		}
		if len(h.store.turns) != 0 {
			t.Error("empty exchange was stored")
		}
	})
}

func TestClassifyTrustEvent(t *testing.T) {
	cases := []struct {
		text string
		want trust.Event
	}{
		{"what a lovely day", trust.EventPositiveTurn},
		{"I've never told anyone this", trust.EventVulnerabilityMoment},
		{"shut up, stupid bot", trust.EventBoundaryViolation},
	}
	for _, tc := range cases {
		if got := classifyTrustEvent(tc.text); got != tc.want {
			t.Errorf("classifyTrustEvent(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
