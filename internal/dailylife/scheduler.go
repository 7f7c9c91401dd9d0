package dailylife

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// triggerDebounce is how long immediate triggers are suppressed after one
// fires. Direct mentions bypass it.
const triggerDebounce = 60 * time.Second

// activityWindow bounds the "most active channels" ranking.
const activityWindow = 15 * time.Minute

// topActiveChannels is how many busy channels join the watchlist per tick.
const topActiveChannels = 3

// SnapshotSource observes the environment. The Discord snapshotter
// implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, channelIDs []string) types.SensorySnapshot
}

// Enqueuer is the slice of the task queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req taskqueue.Request) (string, error)
}

// Scheduler is the adapter-side half of the loop: it wakes at a random
// interval, builds a sensory snapshot, and hands it to the cognition queue.
// It also watches for long idle stretches and queues a reverie cycle.
type Scheduler struct {
	bot    string
	prefix string
	flags  func() config.AutonomyConfig
	src    SnapshotSource
	enq    Enqueuer
	rdb    redis.UniversalClient
	log    *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	activity     map[string][]time.Time
	lastActivity time.Time
}

// NewScheduler creates a Scheduler. flags is read every tick so a config
// reload can flip the autonomy switches without a restart.
func NewScheduler(bot, prefix string, flags func() config.AutonomyConfig, src SnapshotSource, enq Enqueuer, rdb redis.UniversalClient, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		bot:      bot,
		prefix:   prefix,
		flags:    flags,
		src:      src,
		enq:      enq,
		rdb:      rdb,
		log:      log,
		now:      time.Now,
		activity: make(map[string][]time.Time),
	}
}

// NoteActivity records that the bot interacted with someone just now. It
// resets the reverie idle clock.
func (s *Scheduler) NoteActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// NoteChannelMessage feeds the channel activity ranking. The adapter calls
// it for every accepted inbound message.
func (s *Scheduler) NoteChannelMessage(channelID string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	times := s.activity[channelID]
	// Prune outside the window while appending.
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) <= activityWindow {
			kept = append(kept, t)
		}
	}
	s.activity[channelID] = append(kept, now)
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval()):
		}
		s.Tick(ctx)
	}
}

// Tick performs one scheduler pass: snapshot, enqueue, reverie check.
// Exposed so tests can drive the scheduler without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	cfg := s.flags()
	if !cfg.EnableActivity {
		return
	}

	snap := s.src.Snapshot(ctx, s.mostActive(topActiveChannels))
	if _, err := s.enq.Enqueue(ctx, taskqueue.Request{
		Task:  TaskProcessDailyLife,
		Queue: taskqueue.QueueCognition,
		Args:  SnapshotArgs{Snapshot: snap},
	}); err != nil {
		s.log.Warn("snapshot enqueue failed", "bot", s.bot, "error", err)
	}

	s.checkReverie(ctx, cfg)
}

// TriggerImmediate enqueues an out-of-band brain pass for one message.
// Debounced to once per minute unless the bot was directly mentioned.
func (s *Scheduler) TriggerImmediate(ctx context.Context, msg types.MessageSnapshot, reason string) error {
	if !s.flags().EnableActivity {
		return nil
	}
	if !msg.MentionsBot {
		ok, err := s.rdb.SetNX(ctx, config.TriggerDebounceKey(s.prefix, s.bot), "1", triggerDebounce).Result()
		if err != nil {
			return fmt.Errorf("dailylife: trigger debounce: %w", err)
		}
		if !ok {
			return nil
		}
	}
	if _, err := s.enq.Enqueue(ctx, taskqueue.Request{
		Task:  TaskTriggerImmediate,
		Queue: taskqueue.QueueCognition,
		Args:  TriggerArgs{Message: msg, Reason: reason},
	}); err != nil {
		return fmt.Errorf("dailylife: trigger enqueue: %w", err)
	}
	return nil
}

// checkReverie queues a creative-idle job when the bot has been quiet for
// longer than the dream threshold, then resets the clock.
func (s *Scheduler) checkReverie(ctx context.Context, cfg config.AutonomyConfig) {
	s.mu.Lock()
	last := s.lastActivity
	if last.IsZero() {
		s.lastActivity = s.now()
		s.mu.Unlock()
		return
	}
	idle := s.now().Sub(last)
	if idle <= cfg.DreamThreshold {
		s.mu.Unlock()
		return
	}
	s.lastActivity = s.now()
	s.mu.Unlock()

	if _, err := s.enq.Enqueue(ctx, taskqueue.Request{
		Task:  TaskReverieCycle,
		Queue: taskqueue.QueueCognition,
		JobID: "reverie_" + s.bot,
		Args:  ReverieArgs{Bot: s.bot},
	}); err != nil {
		s.log.Warn("reverie enqueue failed", "bot", s.bot, "error", err)
		return
	}
	s.log.Info("reverie cycle queued", "bot", s.bot, "idle", idle.Truncate(time.Second))
}

// interval draws a random sleep in [MinInterval, MaxInterval].
func (s *Scheduler) interval() time.Duration {
	cfg := s.flags()
	lo, hi := cfg.MinInterval, cfg.MaxInterval
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// mostActive returns up to n channel ids ranked by message count inside the
// activity window.
func (s *Scheduler) mostActive(n int) []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	type ranked struct {
		id    string
		count int
	}
	var rankings []ranked
	for id, times := range s.activity {
		count := 0
		for _, t := range times {
			if now.Sub(t) <= activityWindow {
				count++
			}
		}
		if count == 0 {
			delete(s.activity, id)
			continue
		}
		rankings = append(rankings, ranked{id: id, count: count})
	}
	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].count != rankings[j].count {
			return rankings[i].count > rankings[j].count
		}
		return rankings[i].id < rankings[j].id
	})

	if len(rankings) > n {
		rankings = rankings[:n]
	}
	out := make([]string, len(rankings))
	for i, r := range rankings {
		out[i] = r.id
	}
	return out
}
