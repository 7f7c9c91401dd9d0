package trust_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
)

// newTestPool connects to the database named by
// WHISPERENGINE_TEST_POSTGRES_DSN, or skips the test when unset, and
// recreates the relationships table.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("WHISPERENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WHISPERENGINE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS whisperengine_relationships"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	return pool
}

func newTestStore(t *testing.T, bot string) *trust.PostgresStore {
	t.Helper()
	s := trust.NewPostgresStore(newTestPool(t), bot)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestPostgresStore_EnsureAndGet(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()

	rel, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel != nil {
		t.Fatalf("expected nil before Ensure, got %+v", rel)
	}

	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure twice: %v", err)
	}

	rel, err = s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel == nil || rel.TrustScore != 0 || rel.UserID != "u1" {
		t.Fatalf("unexpected relationship: %+v", rel)
	}
	if rel.Preferences == nil || len(rel.Preferences) != 0 {
		t.Errorf("expected empty preferences map, got %+v", rel.Preferences)
	}
}

func TestPostgresStore_ApplyDelta(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	oldScore, newScore, err := s.ApplyDelta(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if oldScore != 0 || newScore != 5 {
		t.Errorf("delta = %v→%v, want 0→5", oldScore, newScore)
	}

	// Clamp at the ceiling.
	if _, _, err := s.ApplyDelta(ctx, "u1", 200); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	oldScore, newScore, err = s.ApplyDelta(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if oldScore != 100 || newScore != 100 {
		t.Errorf("delta at ceiling = %v→%v, want 100→100", oldScore, newScore)
	}

	// Clamp at the floor.
	if _, _, err := s.ApplyDelta(ctx, "u1", -500); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	oldScore, newScore, err = s.ApplyDelta(ctx, "u1", -5)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if oldScore != -100 || newScore != -100 {
		t.Errorf("delta at floor = %v→%v, want -100→-100", oldScore, newScore)
	}
}

func TestPostgresStore_ModerationGate(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.SetModerationTimeout(ctx, "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SetModerationTimeout: %v", err)
	}

	oldScore, newScore, err := s.ApplyDelta(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if oldScore != newScore {
		t.Errorf("positive delta applied during timeout: %v→%v", oldScore, newScore)
	}

	oldScore, newScore, err = s.ApplyDelta(ctx, "u1", -3)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if newScore != oldScore-3 {
		t.Errorf("negative delta blocked during timeout: %v→%v", oldScore, newScore)
	}

	// Expired timeout stops gating.
	if err := s.SetModerationTimeout(ctx, "u1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SetModerationTimeout: %v", err)
	}
	oldScore, newScore, err = s.ApplyDelta(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if newScore != oldScore+5 {
		t.Errorf("positive delta blocked after expiry: %v→%v", oldScore, newScore)
	}
}

func TestPostgresStore_TraitsAndPreferences(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.UnlockTrait(ctx, "u1", "shares_secrets"); err != nil {
			t.Fatalf("UnlockTrait: %v", err)
		}
	}
	if err := s.SetPreference(ctx, "u1", "preferred_name", "Sam"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, "u1", "topics_to_avoid", []string{"work"}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	rel, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rel.UnlockedTraits) != 1 || rel.UnlockedTraits[0] != "shares_secrets" {
		t.Errorf("traits = %v", rel.UnlockedTraits)
	}
	if rel.Preferences["preferred_name"] != "Sam" {
		t.Errorf("preferences = %+v", rel.Preferences)
	}

	if err := s.DeletePreference(ctx, "u1", "preferred_name"); err != nil {
		t.Fatalf("DeletePreference: %v", err)
	}
	rel, err = s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := rel.Preferences["preferred_name"]; ok {
		t.Error("preference survived delete")
	}
}

func TestPostgresStore_Mood(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	rel, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel.Mood != "" || rel.MoodIntensity != 0 {
		t.Errorf("fresh row carries a mood: %q/%v", rel.Mood, rel.MoodIntensity)
	}

	if err := s.SetMood(ctx, "u1", "sadness", 0.4); err != nil {
		t.Fatalf("SetMood: %v", err)
	}
	rel, err = s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel.Mood != "sadness" || rel.MoodIntensity != 0.4 {
		t.Errorf("mood = %q/%v, want sadness/0.4", rel.Mood, rel.MoodIntensity)
	}
}

func TestPostgresStore_BotScoping(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	elena := trust.NewPostgresStore(pool, "elena")
	if err := elena.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	marcus := trust.NewPostgresStore(pool, "marcus")

	if err := elena.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, _, err := elena.ApplyDelta(ctx, "u1", 50); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	rel, err := marcus.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel != nil {
		t.Fatalf("marcus sees elena's relationship: %+v", rel)
	}
}

func TestPostgresStore_ClearAndTouch(t *testing.T) {
	s := newTestStore(t, "elena")
	ctx := context.Background()
	if err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.TouchInteraction(ctx, "u1", now); err != nil {
		t.Fatalf("TouchInteraction: %v", err)
	}
	rel, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel.LastInteraction == nil || !rel.LastInteraction.Equal(now) {
		t.Errorf("last interaction = %v, want %v", rel.LastInteraction, now)
	}

	if err := s.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rel, err = s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rel != nil {
		t.Errorf("relationship survived Clear: %+v", rel)
	}
}
