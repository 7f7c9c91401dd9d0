// Package trust manages per-(bot, user) relationship state: a trust score
// driving a five-stage relationship ladder, unlockable character traits, and
// user preferences.
//
// The score is the only transition input. It is clamped to [-100, 100] and
// every mutation happens as a single row-locked UPDATE in the relational
// store, so concurrent conversation turns cannot lose increments. Stage
// names and milestone messages are derived from the score; characters may
// override the message templates through their evolution config.
package trust

import "time"

// Score bounds.
const (
	MinScore = -100
	MaxScore = 100
)

// Stage is a named relationship level derived from the trust score.
type Stage string

const (
	StageStranger     Stage = "Stranger"
	StageAcquaintance Stage = "Acquaintance"
	StageFriend       Stage = "Friend"
	StageCloseFriend  Stage = "Close Friend"
	StageSoulmate     Stage = "Soulmate"
)

// stageFloors maps each stage to its minimum score, highest first.
var stageFloors = []struct {
	floor float64
	stage Stage
}{
	{80, StageSoulmate},
	{60, StageCloseFriend},
	{40, StageFriend},
	{20, StageAcquaintance},
}

// StageFor returns the relationship stage for a trust score.
func StageFor(score float64) Stage {
	for _, s := range stageFloors {
		if score >= s.floor {
			return s.stage
		}
	}
	return StageStranger
}

// Relationship is the persisted state for one (bot, user) pair.
type Relationship struct {
	BotName string
	UserID  string

	TrustScore float64

	// UnlockedTraits are evolution-config trait names granted so far.
	UnlockedTraits []string

	// Preferences holds user-declared preferences (preferred nickname,
	// topics to avoid, and similar).
	Preferences map[string]any

	// Mood is the user's dominant emotion from the last processed session,
	// with its average intensity in [0, 1]. Empty until a session has been
	// processed.
	Mood          string
	MoodIntensity float64

	LastInteraction   *time.Time
	LastMilestoneDate *time.Time

	// ModerationUntil, when in the future, blocks all positive trust deltas.
	ModerationUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stage returns the current relationship stage.
func (r *Relationship) Stage() Stage { return StageFor(r.TrustScore) }

// InModerationTimeout reports whether the user is currently timed out.
func (r *Relationship) InModerationTimeout(now time.Time) bool {
	return r.ModerationUntil != nil && r.ModerationUntil.After(now)
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
