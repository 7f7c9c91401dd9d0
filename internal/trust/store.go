package trust

import (
	"context"
	"time"
)

// Store persists relationship rows. Implementations must make ApplyDelta
// atomic per (bot, user): concurrent deltas may interleave in any order but
// none may be lost, and every returned (old, new) pair must reflect one
// consistent transition.
type Store interface {
	// Ensure creates the relationship row with defaults if it does not exist.
	Ensure(ctx context.Context, userID string) error

	// Get returns the relationship, or (nil, nil) when no row exists.
	Get(ctx context.Context, userID string) (*Relationship, error)

	// ApplyDelta applies a clamped score delta under a row lock and returns
	// the scores before and after. Positive deltas are ignored while the
	// user's moderation timeout is active.
	ApplyDelta(ctx context.Context, userID string, delta float64) (oldScore, newScore float64, err error)

	// SetMilestoneDate records when the last stage transition happened.
	SetMilestoneDate(ctx context.Context, userID string, at time.Time) error

	// UnlockTrait adds a trait to the unlocked set. Idempotent.
	UnlockTrait(ctx context.Context, userID, trait string) error

	// SetPreference stores one preference key. DeletePreference removes it.
	SetPreference(ctx context.Context, userID, key string, value any) error
	DeletePreference(ctx context.Context, userID, key string) error

	// SetMood records the user's session mood and its intensity.
	SetMood(ctx context.Context, userID, mood string, intensity float64) error

	// Clear removes the relationship row entirely.
	Clear(ctx context.Context, userID string) error

	// TouchInteraction records the time of the latest interaction.
	TouchInteraction(ctx context.Context, userID string, at time.Time) error

	// SetModerationTimeout blocks positive deltas until the given time.
	SetModerationTimeout(ctx context.Context, userID string, until time.Time) error
}
