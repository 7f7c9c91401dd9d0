package trust

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with the same clamp and moderation
// semantics as the PostgreSQL implementation.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*Relationship
	now  func() time.Time

	getCalls int
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*Relationship), now: time.Now}
}

func (f *fakeStore) Ensure(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID]; !ok {
		f.rows[userID] = &Relationship{
			BotName:     "elena",
			UserID:      userID,
			Preferences: map[string]any{},
			CreatedAt:   f.now(),
			UpdatedAt:   f.now(),
		}
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, userID string) (*Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	r, ok := f.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ApplyDelta(_ context.Context, userID string, delta float64) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[userID]
	old := r.TrustScore
	if delta > 0 && r.ModerationUntil != nil && r.ModerationUntil.After(f.now()) {
		return old, old, nil
	}
	r.TrustScore = Clamp(old + delta)
	return old, r.TrustScore, nil
}

func (f *fakeStore) SetMilestoneDate(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID].LastMilestoneDate = &at
	return nil
}

func (f *fakeStore) UnlockTrait(_ context.Context, userID, trait string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[userID]
	for _, t := range r.UnlockedTraits {
		if t == trait {
			return nil
		}
	}
	r.UnlockedTraits = append(r.UnlockedTraits, trait)
	return nil
}

func (f *fakeStore) SetPreference(_ context.Context, userID, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID].Preferences[key] = value
	return nil
}

func (f *fakeStore) DeletePreference(_ context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[userID]; ok {
		delete(r.Preferences, key)
	}
	return nil
}

func (f *fakeStore) SetMood(_ context.Context, userID, mood string, intensity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[userID]
	r.Mood = mood
	r.MoodIntensity = intensity
	return nil
}

func (f *fakeStore) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, userID)
	return nil
}

func (f *fakeStore) TouchInteraction(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID].LastInteraction = &at
	return nil
}

func (f *fakeStore) SetModerationTimeout(_ context.Context, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID].ModerationUntil = &until
	return nil
}

func (f *fakeStore) score(userID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[userID].TrustScore
}

func (f *fakeStore) setScore(userID string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[userID].TrustScore = score
}

func TestManager_GetRelationship(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena")

	rel, err := m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.TrustScore != 0 || rel.Stage() != StageStranger {
		t.Errorf("fresh relationship = %+v", rel)
	}
}

func TestManager_CacheServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena", WithCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatalf("GetRelationship: %v", err)
		}
	}
	if store.getCalls != 1 {
		t.Errorf("store reads = %d, want 1 (cache miss only)", store.getCalls)
	}

	// A write invalidates the cache entry.
	if _, err := m.UpdateTrust(ctx, "u1", EventPositiveTurn, false); err != nil {
		t.Fatalf("UpdateTrust: %v", err)
	}
	rel, err := m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.TrustScore != 1 {
		t.Errorf("post-update score = %v, want 1", rel.TrustScore)
	}
	if store.getCalls != 2 {
		t.Errorf("store reads = %d, want 2 after invalidation", store.getCalls)
	}
}

func TestManager_UpdateTrust(t *testing.T) {
	ctx := context.Background()

	t.Run("milestone on stage boundary", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, "elena")
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatalf("GetRelationship: %v", err)
		}
		store.setScore("u1", 19)

		msg, err := m.UpdateTrust(ctx, "u1", EventPositiveTurn, false)
		if err != nil {
			t.Fatalf("UpdateTrust: %v", err)
		}
		if msg == "" {
			t.Fatal("expected milestone message crossing 19→20")
		}
		rel, _ := m.GetRelationship(ctx, "u1")
		if rel.Stage() != StageAcquaintance {
			t.Errorf("stage = %q, want Acquaintance", rel.Stage())
		}
		if rel.LastMilestoneDate == nil {
			t.Error("milestone date not persisted")
		}
	})

	t.Run("no milestone inside a stage", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, "elena")
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		msg, err := m.UpdateTrust(ctx, "u1", EventPositiveTurn, false)
		if err != nil {
			t.Fatalf("UpdateTrust: %v", err)
		}
		if msg != "" {
			t.Errorf("unexpected milestone %q at score 1", msg)
		}
	})

	t.Run("clamped at floor", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, "elena")
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		store.setScore("u1", -100)
		if _, err := m.UpdateTrustBy(ctx, "u1", -5); err != nil {
			t.Fatalf("UpdateTrustBy: %v", err)
		}
		if got := store.score("u1"); got != -100 {
			t.Errorf("score = %v, want clamped -100", got)
		}
	})

	t.Run("clamped at ceiling", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, "elena")
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		store.setScore("u1", 100)
		if _, err := m.UpdateTrustBy(ctx, "u1", 5); err != nil {
			t.Fatalf("UpdateTrustBy: %v", err)
		}
		if got := store.score("u1"); got != 100 {
			t.Errorf("score = %v, want clamped 100", got)
		}
	})

	t.Run("moderation blocks positive deltas only", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, "elena")
		if _, err := m.GetRelationship(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		store.setScore("u1", 10)
		if err := m.SetModerationTimeout(ctx, "u1", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SetModerationTimeout: %v", err)
		}

		if _, err := m.UpdateTrust(ctx, "u1", EventPositiveTurn, false); err != nil {
			t.Fatalf("UpdateTrust: %v", err)
		}
		if got := store.score("u1"); got != 10 {
			t.Errorf("positive delta applied during timeout: %v", got)
		}

		if _, err := m.UpdateTrust(ctx, "u1", EventBoundaryViolation, false); err != nil {
			t.Fatalf("UpdateTrust: %v", err)
		}
		if got := store.score("u1"); got != 7 {
			t.Errorf("negative delta not applied during timeout: %v", got)
		}
	})
}

func TestManager_Preferences(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena")

	if err := m.UpdatePreference(ctx, "u1", "preferred_name", "Sam"); err != nil {
		t.Fatalf("UpdatePreference: %v", err)
	}
	rel, err := m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Preferences["preferred_name"] != "Sam" {
		t.Errorf("preference round-trip failed: %+v", rel.Preferences)
	}

	if err := m.DeletePreference(ctx, "u1", "preferred_name"); err != nil {
		t.Fatalf("DeletePreference: %v", err)
	}
	rel, err = m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if _, ok := rel.Preferences["preferred_name"]; ok {
		t.Error("preference survived delete")
	}
}

func TestManager_Mood(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena", WithCacheTTL(time.Minute))

	rel, err := m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Mood != "" || rel.MoodIntensity != 0 {
		t.Errorf("fresh relationship carries a mood: %+v", rel)
	}

	if err := m.SetMood(ctx, "u1", "joy", 0.7); err != nil {
		t.Fatalf("SetMood: %v", err)
	}
	// The write must invalidate the cached read.
	rel, err = m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Mood != "joy" || rel.MoodIntensity != 0.7 {
		t.Errorf("mood = %q/%v, want joy/0.7", rel.Mood, rel.MoodIntensity)
	}
}

func TestManager_Traits(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena")

	for i := 0; i < 2; i++ {
		if err := m.UnlockTrait(ctx, "u1", "shares_secrets"); err != nil {
			t.Fatalf("UnlockTrait: %v", err)
		}
	}
	rel, err := m.GetRelationship(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if len(rel.UnlockedTraits) != 1 || rel.UnlockedTraits[0] != "shares_secrets" {
		t.Errorf("traits = %v, want single shares_secrets", rel.UnlockedTraits)
	}
}

func TestManager_LastInteraction(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, "elena")

	got, err := m.LastInteraction(ctx, "u1")
	if err != nil {
		t.Fatalf("LastInteraction: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for first contact, got %v", got)
	}

	if err := m.TouchInteraction(ctx, "u1"); err != nil {
		t.Fatalf("TouchInteraction: %v", err)
	}
	got, err = m.LastInteraction(ctx, "u1")
	if err != nil {
		t.Fatalf("LastInteraction: %v", err)
	}
	if got == nil {
		t.Error("expected timestamp after touch")
	}
}
