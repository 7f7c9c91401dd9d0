// Package sessiontrack detects conversation session boundaries and schedules
// the post-conversation processing pipeline.
//
// A session opens on the first message from a user and closes after an
// inactivity timeout. Once a session holds at least two messages the tracker
// enqueues the capability jobs exactly once per session; the enqueue path and
// the task queue's deterministic job ids each suppress duplicates, so the
// guarantee survives process restarts. The tracker itself only enqueues — the
// worker-side handlers live in [Pipeline] and never block message handling.
package sessiontrack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisperengine-ai/whisperengine/internal/observe"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
)

// DefaultTimeout is the inactivity window that closes a session.
const DefaultTimeout = 15 * time.Minute

// minPipelineMessages is the smallest session worth processing.
const minPipelineMessages = 2

// graphMinMessages gates the optional graph-enrichment capability.
const graphMinMessages = 6

// sweepInterval is how often idle sessions are closed in the background.
const sweepInterval = time.Minute

// Enqueuer is the slice of the task queue the tracker needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req taskqueue.Request) (string, error)
}

// Session describes one open conversation session.
type Session struct {
	ID           string
	Start        time.Time
	LastActivity time.Time
	Messages     int
}

type sessionState struct {
	Session
	channelID string
	scheduled bool
}

// Tracker watches inbound turns for one bot and owns the open-session table.
// Safe for concurrent use.
type Tracker struct {
	bot     string
	enq     Enqueuer
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *observe.Metrics

	mu   sync.Mutex
	open map[string]*sessionState

	done     chan struct{}
	stopOnce sync.Once
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithTimeout overrides the inactivity timeout.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) TrackerOption {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTracker creates a session tracker for one bot.
func NewTracker(bot string, enq Enqueuer, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		bot:     bot,
		enq:     enq,
		timeout: DefaultTimeout,
		now:     time.Now,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
		open:    make(map[string]*sessionState),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records one inbound turn for userID and returns the session it
// belongs to, opening a fresh session when none is open or the previous one
// timed out. channelID is remembered for graph enrichment and may be empty.
func (t *Tracker) Observe(ctx context.Context, userID, channelID string) Session {
	now := t.now()

	t.mu.Lock()
	s, ok := t.open[userID]
	if ok && now.Sub(s.LastActivity) > t.timeout {
		t.closeLocked(ctx, userID, s)
		ok = false
	}
	if !ok {
		s = &sessionState{Session: Session{
			ID:    uuid.NewString(),
			Start: now,
		}}
		t.open[userID] = s
		t.metrics.ActiveSessions.Add(ctx, 1)
		t.log.Debug("session opened", "bot", t.bot, "user_id", userID, "session_id", s.ID)
	}
	s.LastActivity = now
	s.Messages++
	if channelID != "" {
		s.channelID = channelID
	}
	out := s.Session
	t.mu.Unlock()
	return out
}

// CheckAndSummarize schedules the post-conversation pipeline for userID's open
// session when it holds enough messages and is not already scheduled. Returns
// whether this call performed the scheduling.
func (t *Tracker) CheckAndSummarize(ctx context.Context, userID string) (bool, error) {
	t.mu.Lock()
	s, ok := t.open[userID]
	if !ok || s.scheduled || s.Messages < minPipelineMessages {
		t.mu.Unlock()
		return false, nil
	}
	// Mark before enqueueing; job-id dedup in the queue covers the case where
	// a crash loses the in-memory flag.
	s.scheduled = true
	snap := *s
	t.mu.Unlock()

	if err := t.schedule(ctx, userID, snap); err != nil {
		t.mu.Lock()
		if cur, ok := t.open[userID]; ok && cur.ID == snap.ID {
			cur.scheduled = false
		}
		t.mu.Unlock()
		return false, err
	}
	return true, nil
}

// CloseIdle closes every session whose inactivity exceeds the timeout.
func (t *Tracker) CloseIdle(ctx context.Context) {
	now := t.now()
	t.mu.Lock()
	for userID, s := range t.open {
		if now.Sub(s.LastActivity) > t.timeout {
			t.closeLocked(ctx, userID, s)
		}
	}
	t.mu.Unlock()
}

// Run sweeps idle sessions until ctx is cancelled or [Tracker.Stop] is called.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.CloseIdle(ctx)
		}
	}
}

// Stop halts the sweep loop. Safe to call multiple times.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// closeLocked removes a session from the open table, scheduling its pipeline
// as a safety net when it became eligible without a CheckAndSummarize call.
// Must be called with t.mu held.
func (t *Tracker) closeLocked(ctx context.Context, userID string, s *sessionState) {
	delete(t.open, userID)
	t.metrics.ActiveSessions.Add(ctx, -1)
	t.log.Debug("session closed",
		"bot", t.bot, "user_id", userID, "session_id", s.ID, "messages", s.Messages)

	if s.scheduled || s.Messages < minPipelineMessages {
		return
	}
	snap := *s
	go func() {
		if err := t.schedule(context.WithoutCancel(ctx), userID, snap); err != nil {
			t.log.Warn("failed to schedule pipeline for closed session",
				"bot", t.bot, "user_id", userID, "session_id", snap.ID, "error", err)
		}
	}()
}

// schedule enqueues every capability job for one session. Partial failures
// return an error so the caller can retry; already-enqueued capabilities are
// suppressed by their job ids.
func (t *Tracker) schedule(ctx context.Context, userID string, s sessionState) error {
	args := SessionArgs{
		UserID:    userID,
		Bot:       t.bot,
		SessionID: s.ID,
		// A small rewind so the first turn, stored an instant before the
		// session opened, is never missed by the After filter.
		SessionStart: s.Start.Add(-time.Second),
	}
	reqs := []taskqueue.Request{
		{Task: TaskKnowledgeExtraction, Queue: taskqueue.QueueCognition, JobID: KnowledgeJobID(s.ID), Args: args},
		{Task: TaskPreferenceExtraction, Queue: taskqueue.QueueCognition, JobID: PreferenceJobID(s.ID), Args: args},
		{Task: TaskGoalAnalysis, Queue: taskqueue.QueueCognition, JobID: GoalJobID(s.ID), Args: args},
		{Task: TaskSummarization, Queue: taskqueue.QueueCognition, JobID: SummarizeJobID(s.ID), Args: args},
		{Task: TaskReflection, Queue: taskqueue.QueueCognition, JobID: ReflectionJobID(userID, t.bot),
			Args: ReflectionArgs{UserID: userID, Bot: t.bot}},
		{Task: TaskInsightAnalysis, Queue: taskqueue.QueueCognition, JobID: InsightJobID(userID, t.bot, "session_end"),
			Args: InsightArgs{UserID: userID, Bot: t.bot, Trigger: "session_end"}},
	}
	if s.Messages >= graphMinMessages {
		reqs = append(reqs, taskqueue.Request{
			Task: TaskGraphEnrichment, Queue: taskqueue.QueueCognition, JobID: GraphJobID(s.ID),
			Args: GraphArgs{
				SessionID:    s.ID,
				UserID:       userID,
				ChannelID:    s.channelID,
				Bot:          t.bot,
				SessionStart: args.SessionStart,
			},
		})
	}

	for _, req := range reqs {
		if _, err := t.enq.Enqueue(ctx, req); err != nil {
			return err
		}
	}
	t.log.Info("post-conversation pipeline scheduled",
		"bot", t.bot, "user_id", userID, "session_id", s.ID, "messages", s.Messages)
	return nil
}
