package universe

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// fakePoster records every executed action command.
type fakePoster struct {
	cmds []types.ActionCommand
	err  error
}

func (f *fakePoster) Execute(_ context.Context, cmd types.ActionCommand) error {
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func newTestBroadcaster(t *testing.T, channels ...string) (*Broadcaster, redis.UniversalClient, *fakePoster) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	poster := &fakePoster{}
	return NewBroadcaster("elena", "we:", channels, rdb, poster, nil), rdb, poster
}

func TestBroadcaster_Send(t *testing.T) {
	ctx := context.Background()
	b, rdb, _ := newTestBroadcaster(t)

	err := b.Send(ctx, []string{"elena", "marcus", "dream"}, "Elena finished her reef survey.")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The sender never enqueues to itself.
	if n := rdb.LLen(ctx, config.BroadcastQueueKey("we:", "elena")).Val(); n != 0 {
		t.Errorf("own queue length = %d, want 0", n)
	}

	for _, recipient := range []string{"marcus", "dream"} {
		raw, err := rdb.LPop(ctx, config.BroadcastQueueKey("we:", recipient)).Result()
		if err != nil {
			t.Fatalf("pop %s queue: %v", recipient, err)
		}
		var payload BroadcastPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			t.Fatalf("decode payload for %s: %v", recipient, err)
		}
		if payload.FromBot != "elena" {
			t.Errorf("FromBot = %q, want elena", payload.FromBot)
		}
		if payload.Content != "Elena finished her reef survey." {
			t.Errorf("Content = %q", payload.Content)
		}
		if payload.Timestamp.IsZero() {
			t.Error("Timestamp is zero")
		}
	}
}

func TestBroadcaster_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue is a no-op", func(t *testing.T) {
		b, _, poster := newTestBroadcaster(t, "chan-1")
		if err := b.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(poster.cmds) != 0 {
			t.Errorf("posted %d commands, want 0", len(poster.cmds))
		}
	})

	t.Run("posts to every configured channel", func(t *testing.T) {
		b, rdb, poster := newTestBroadcaster(t, "chan-1", "chan-2")
		payload, _ := json.Marshal(BroadcastPayload{FromBot: "marcus", Content: "Marcus hit a milestone."})
		rdb.RPush(ctx, config.BroadcastQueueKey("we:", "elena"), payload)

		if err := b.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(poster.cmds) != 2 {
			t.Fatalf("posted %d commands, want 2", len(poster.cmds))
		}
		for i, want := range []string{"chan-1", "chan-2"} {
			cmd := poster.cmds[i]
			if cmd.ChannelID != want {
				t.Errorf("cmd[%d].ChannelID = %q, want %q", i, cmd.ChannelID, want)
			}
			if cmd.ActionType != types.ActionPost {
				t.Errorf("cmd[%d].ActionType = %q, want %q", i, cmd.ActionType, types.ActionPost)
			}
			if !strings.Contains(cmd.Content, "marcus") || !strings.Contains(cmd.Content, "Marcus hit a milestone.") {
				t.Errorf("cmd[%d].Content = %q", i, cmd.Content)
			}
		}

		// The payload was consumed.
		if n := rdb.LLen(ctx, config.BroadcastQueueKey("we:", "elena")).Val(); n != 0 {
			t.Errorf("queue length after poll = %d, want 0", n)
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		b, rdb, poster := newTestBroadcaster(t, "chan-1")
		rdb.RPush(ctx, config.BroadcastQueueKey("we:", "elena"), "{not json")

		if err := b.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(poster.cmds) != 0 {
			t.Errorf("posted %d commands, want 0", len(poster.cmds))
		}
		if n := rdb.LLen(ctx, config.BroadcastQueueKey("we:", "elena")).Val(); n != 0 {
			t.Errorf("queue length = %d, want 0", n)
		}
	})
}
