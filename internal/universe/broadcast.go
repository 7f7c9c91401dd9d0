package universe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// broadcastPollInterval is how often the bot's broadcast queue is drained.
const broadcastPollInterval = 5 * time.Second

// BroadcastPayload is the JSON shape carried on a bot's broadcast queue.
type BroadcastPayload struct {
	FromBot   string    `json:"from_bot"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Poster posts a standalone message to a channel. The Discord action
// executor implements it.
type Poster interface {
	Execute(ctx context.Context, cmd types.ActionCommand) error
}

// Broadcaster is the channel-visible half of the universe: Send pushes an
// announcement onto other bots' broadcast queues, Run drains this bot's own
// queue into its configured broadcast channels. Unlike gossip memories,
// broadcasts are public by construction and carry no user identity.
type Broadcaster struct {
	bot      string
	prefix   string
	channels []string
	rdb      redis.UniversalClient
	poster   Poster
	log      *slog.Logger
	now      func() time.Time
}

// NewBroadcaster creates a Broadcaster. channels may be empty, in which case
// received payloads are drained and dropped.
func NewBroadcaster(bot, prefix string, channels []string, rdb redis.UniversalClient, poster Poster, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		bot:      bot,
		prefix:   prefix,
		channels: channels,
		rdb:      rdb,
		poster:   poster,
		log:      log,
		now:      time.Now,
	}
}

// Send pushes content onto each recipient's broadcast queue. The sender's
// own queue is skipped.
func (b *Broadcaster) Send(ctx context.Context, recipients []string, content string) error {
	payload, err := json.Marshal(BroadcastPayload{
		FromBot:   b.bot,
		Content:   content,
		Timestamp: b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("universe: broadcast: marshal: %w", err)
	}
	var errs []error
	for _, recipient := range recipients {
		if recipient == b.bot {
			continue
		}
		key := config.BroadcastQueueKey(b.prefix, recipient)
		if err := b.rdb.RPush(ctx, key, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("universe: broadcast to %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

// Run drains the bot's broadcast queue until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(broadcastPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				b.log.Warn("broadcast poll failed", "bot", b.bot, "error", err)
			}
		}
	}
}

// Poll takes at most one payload off the queue and posts it to every
// configured broadcast channel. A malformed payload is dropped, not retried.
func (b *Broadcaster) Poll(ctx context.Context) error {
	raw, err := b.rdb.LPop(ctx, config.BroadcastQueueKey(b.prefix, b.bot)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("universe: broadcast pop: %w", err)
	}

	var payload BroadcastPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		b.log.Warn("dropping malformed broadcast payload", "bot", b.bot, "error", err)
		return nil
	}

	content := fmt.Sprintf("📡 %s: %s", payload.FromBot, payload.Content)
	for _, channelID := range b.channels {
		cmd := types.ActionCommand{
			ActionType: types.ActionPost,
			ChannelID:  channelID,
			Content:    content,
			Reason:     "universe broadcast from " + payload.FromBot,
		}
		if err := b.poster.Execute(ctx, cmd); err != nil {
			b.log.Warn("broadcast post failed",
				"bot", b.bot, "channel_id", channelID, "error", err)
		}
	}
	return nil
}
