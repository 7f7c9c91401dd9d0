// Package dailylife implements the autonomous behavior loop: a scheduler
// that periodically snapshots the environment, a worker-side brain that
// turns snapshots into action plans, a poller that carries planned actions
// out through the messaging adapter, and rule-based autonomous reactions.
package dailylife

import (
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// Task names carried on the cognition queue.
const (
	// TaskProcessDailyLife runs the perceive→plan→execute pipeline over one
	// sensory snapshot.
	TaskProcessDailyLife = "process_daily_life"

	// TaskTriggerImmediate processes a single just-arrived message outside
	// the regular tick.
	TaskTriggerImmediate = "trigger_immediate"

	// TaskReverieCycle is the creative-idle job enqueued after a long quiet
	// stretch. Handled off the hot path; may write a self-reflection entry.
	TaskReverieCycle = "run_reverie_cycle"
)

// SnapshotArgs is the payload for [TaskProcessDailyLife].
type SnapshotArgs struct {
	Snapshot types.SensorySnapshot `json:"snapshot"`
}

// TriggerArgs is the payload for [TaskTriggerImmediate].
type TriggerArgs struct {
	Message types.MessageSnapshot `json:"message"`
	Reason  string                `json:"reason"`
}

// ReverieArgs is the payload for [TaskReverieCycle].
type ReverieArgs struct {
	Bot string `json:"bot"`
}
