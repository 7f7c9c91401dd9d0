package sessiontrack

import (
	"time"
)

// Capability task names. Each is one job on the cognition queue with one LLM
// round-trip at most; the pipeline is session-level, never per-message.
const (
	TaskKnowledgeExtraction  = "run_batch_knowledge_extraction"
	TaskPreferenceExtraction = "run_batch_preference_extraction"
	TaskGoalAnalysis         = "run_batch_goal_analysis"
	TaskSummarization        = "run_summarization"
	TaskReflection           = "run_reflection"
	TaskInsightAnalysis      = "run_insight_analysis"
	TaskGraphEnrichment      = "run_graph_enrichment"
)

// SessionArgs is the payload for session-keyed capabilities.
type SessionArgs struct {
	UserID    string `json:"user_id"`
	Bot       string `json:"bot"`
	SessionID string `json:"session_id"`

	// SessionStart bounds the message batch; the handler re-reads the
	// session's messages from the store rather than carrying them in the job.
	SessionStart time.Time `json:"session_start"`
}

// ReflectionArgs is the payload for user-keyed pattern analysis.
type ReflectionArgs struct {
	UserID string `json:"user_id"`
	Bot    string `json:"bot"`
}

// InsightArgs is the payload for throttled insight extraction.
type InsightArgs struct {
	UserID   string `json:"user_id"`
	Bot      string `json:"bot"`
	Trigger  string `json:"trigger"`
	Priority int    `json:"priority"`
}

// GraphArgs is the payload for optional graph enrichment.
type GraphArgs struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	ChannelID    string    `json:"channel_id,omitempty"`
	ServerID     string    `json:"server_id,omitempty"`
	Bot          string    `json:"bot"`
	SessionStart time.Time `json:"session_start"`
}

// Deterministic job ids. Idempotency is by (capability, session) for
// session-keyed jobs and (capability, user, bot) for user-keyed ones.

func SummarizeJobID(sessionID string) string  { return "summarize_" + sessionID }
func KnowledgeJobID(sessionID string) string  { return "knowledge_" + sessionID }
func PreferenceJobID(sessionID string) string { return "preferences_" + sessionID }
func GoalJobID(sessionID string) string       { return "goals_" + sessionID }
func GraphJobID(sessionID string) string      { return "graph_" + sessionID }

func ReflectionJobID(userID, bot string) string { return "reflection_" + userID + "_" + bot }

func InsightJobID(userID, bot, trigger string) string {
	return "insight_" + userID + "_" + bot + "_" + trigger
}
