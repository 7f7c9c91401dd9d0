package dailylife

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

type fakeSource struct {
	requested [][]string
	snap      types.SensorySnapshot
}

func (f *fakeSource) Snapshot(_ context.Context, channelIDs []string) types.SensorySnapshot {
	f.requested = append(f.requested, channelIDs)
	return f.snap
}

type fakeEnqueuer struct {
	requests []taskqueue.Request
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req taskqueue.Request) (string, error) {
	f.requests = append(f.requests, req)
	return req.JobID, f.err
}

func (f *fakeEnqueuer) byTask(task string) []taskqueue.Request {
	var out []taskqueue.Request
	for _, r := range f.requests {
		if r.Task == task {
			out = append(out, r)
		}
	}
	return out
}

func autonomyOn() config.AutonomyConfig {
	return config.AutonomyConfig{
		EnableActivity:         true,
		EnableReplies:          true,
		EnableReactions:        true,
		EnablePosting:          true,
		EnableChannelLurking:   true,
		EnableBotConversations: false,
		MinInterval:            300 * time.Second,
		MaxInterval:            600 * time.Second,
		DreamThreshold:         2 * time.Hour,
		PostCooldown:           10 * time.Minute,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSource, *fakeEnqueuer, *func() config.AutonomyConfig) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := &fakeSource{snap: types.SensorySnapshot{BotName: "elena"}}
	enq := &fakeEnqueuer{}
	cfg := autonomyOn()
	flags := func() config.AutonomyConfig { return cfg }
	s := NewScheduler("elena", "we:", flags, src, enq, rdb, nil)
	return s, src, enq, &flags
}

func TestScheduler_TickEnqueuesSnapshot(t *testing.T) {
	s, src, enq, _ := newTestScheduler(t)

	s.Tick(context.Background())

	if len(src.requested) != 1 {
		t.Fatalf("snapshot calls = %d, want 1", len(src.requested))
	}
	jobs := enq.byTask(TaskProcessDailyLife)
	if len(jobs) != 1 {
		t.Fatalf("daily-life jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Queue != taskqueue.QueueCognition {
		t.Errorf("queue = %q, want %q", jobs[0].Queue, taskqueue.QueueCognition)
	}
	args, ok := jobs[0].Args.(SnapshotArgs)
	if !ok {
		t.Fatalf("args type = %T", jobs[0].Args)
	}
	if args.Snapshot.BotName != "elena" {
		t.Errorf("snapshot bot = %q", args.Snapshot.BotName)
	}
}

func TestScheduler_TickDisabled(t *testing.T) {
	s, src, enq, _ := newTestScheduler(t)
	cfg := autonomyOn()
	cfg.EnableActivity = false
	// Swap the flag source the scheduler reads.
	s.flags = func() config.AutonomyConfig { return cfg }

	s.Tick(context.Background())

	if len(src.requested) != 0 || len(enq.requests) != 0 {
		t.Errorf("disabled tick did work: snapshots=%d jobs=%d", len(src.requested), len(enq.requests))
	}
}

func TestScheduler_MostActiveChannels(t *testing.T) {
	s, src, _, _ := newTestScheduler(t)

	base := time.Now()
	s.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		s.NoteChannelMessage("busy")
	}
	s.NoteChannelMessage("slow")
	s.NoteChannelMessage("gone")
	// Push "gone" outside the activity window.
	s.activity["gone"] = []time.Time{base.Add(-activityWindow - time.Minute)}

	s.Tick(context.Background())

	got := src.requested[0]
	want := []string{"busy", "slow"}
	if len(got) != len(want) {
		t.Fatalf("requested channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channel[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScheduler_ReverieAfterIdle(t *testing.T) {
	s, _, enq, _ := newTestScheduler(t)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.NoteActivity()

	// Still within the dream threshold: no reverie.
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.Tick(context.Background())
	if got := enq.byTask(TaskReverieCycle); len(got) != 0 {
		t.Fatalf("reverie fired too early: %d", len(got))
	}

	// Past the threshold: one reverie, deterministic job id.
	s.now = func() time.Time { return base.Add(3 * time.Hour) }
	s.Tick(context.Background())
	got := enq.byTask(TaskReverieCycle)
	if len(got) != 1 {
		t.Fatalf("reverie jobs = %d, want 1", len(got))
	}
	if got[0].JobID != "reverie_elena" {
		t.Errorf("job id = %q", got[0].JobID)
	}

	// The clock reset: an immediate second tick stays quiet.
	s.Tick(context.Background())
	if got := enq.byTask(TaskReverieCycle); len(got) != 1 {
		t.Errorf("reverie re-fired after reset: %d", len(got))
	}
}

func TestScheduler_ReverieFirstTickInitializes(t *testing.T) {
	s, _, enq, _ := newTestScheduler(t)

	// No NoteActivity yet: the first tick must seed the clock, not dream.
	s.Tick(context.Background())
	if got := enq.byTask(TaskReverieCycle); len(got) != 0 {
		t.Errorf("reverie fired on first tick: %d", len(got))
	}
}

func TestScheduler_TriggerImmediate(t *testing.T) {
	ctx := context.Background()

	t.Run("debounced", func(t *testing.T) {
		s, _, enq, _ := newTestScheduler(t)
		msg := types.MessageSnapshot{ID: "m1", ChannelID: "c1"}

		if err := s.TriggerImmediate(ctx, msg, "trusted user spoke"); err != nil {
			t.Fatal(err)
		}
		if err := s.TriggerImmediate(ctx, msg, "trusted user spoke"); err != nil {
			t.Fatal(err)
		}

		got := enq.byTask(TaskTriggerImmediate)
		if len(got) != 1 {
			t.Fatalf("triggers = %d, want 1 (second should debounce)", len(got))
		}
		args := got[0].Args.(TriggerArgs)
		if args.Reason != "trusted user spoke" || args.Message.ID != "m1" {
			t.Errorf("args = %+v", args)
		}
	})

	t.Run("mention bypasses debounce", func(t *testing.T) {
		s, _, enq, _ := newTestScheduler(t)
		plain := types.MessageSnapshot{ID: "m1", ChannelID: "c1"}
		mention := types.MessageSnapshot{ID: "m2", ChannelID: "c1", MentionsBot: true}

		if err := s.TriggerImmediate(ctx, plain, "reply to bot"); err != nil {
			t.Fatal(err)
		}
		if err := s.TriggerImmediate(ctx, mention, "mention"); err != nil {
			t.Fatal(err)
		}

		if got := enq.byTask(TaskTriggerImmediate); len(got) != 2 {
			t.Fatalf("triggers = %d, want 2", len(got))
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s, _, enq, _ := newTestScheduler(t)
		cfg := autonomyOn()
		cfg.EnableActivity = false
		s.flags = func() config.AutonomyConfig { return cfg }

		if err := s.TriggerImmediate(ctx, types.MessageSnapshot{ID: "m1", MentionsBot: true}, "mention"); err != nil {
			t.Fatal(err)
		}
		if len(enq.requests) != 0 {
			t.Errorf("disabled trigger enqueued %d jobs", len(enq.requests))
		}
	})
}
