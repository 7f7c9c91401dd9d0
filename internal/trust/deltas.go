package trust

// Event classifies a trust-affecting interaction. All trust deltas live in
// one table keyed by event kind; callers never pass raw numbers.
type Event string

const (
	// EventPositiveTurn is an ordinary friendly conversation turn.
	EventPositiveTurn Event = "positive_turn"

	// EventVulnerabilityMoment is a turn where the user shared something
	// personal or difficult.
	EventVulnerabilityMoment Event = "vulnerability_moment"

	// EventBoundaryViolation is hostile or boundary-crossing behaviour.
	EventBoundaryViolation Event = "boundary_violation"

	// EventAutonomousInteraction is relationship credit for a daily-life
	// channel interaction initiated by the bot.
	EventAutonomousInteraction Event = "autonomous_interaction"
)

// botToBotMultiplier discounts trust built between bots rather than with a
// human.
const botToBotMultiplier = 0.5

// deltas is the unified trust delta table.
var deltas = map[Event]float64{
	EventPositiveTurn:          1,
	EventVulnerabilityMoment:   5,
	EventBoundaryViolation:     -3,
	EventAutonomousInteraction: 1,
}

// DeltaFor returns the score delta for an event. botToBot halves the delta
// when the counterpart is another bot. Unknown events contribute nothing.
func DeltaFor(event Event, botToBot bool) float64 {
	d, ok := deltas[event]
	if !ok {
		return 0
	}
	if botToBot {
		d *= botToBotMultiplier
	}
	return d
}
