package dailylife

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/observe"
	"github.com/whisperengine-ai/whisperengine/internal/respond"
	"github.com/whisperengine-ai/whisperengine/internal/sessiontrack"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// pollInterval is how often the pending-actions list is drained.
const pollInterval = time.Second

// TargetFetcher retrieves one channel message so a planned reply can be
// reconstructed as an inbound message. The Discord snapshotter implements it.
type TargetFetcher interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (types.MessageSnapshot, error)
}

// ActionExecutor carries non-reply actions out on the platform. The Discord
// executor implements it.
type ActionExecutor interface {
	Execute(ctx context.Context, cmd types.ActionCommand) error
}

// Replier runs the main response pipeline for an autonomous reply, so the
// reply is remembered, attributed, and trust-credited exactly like a normal
// conversational turn.
type Replier interface {
	RespondWithNote(ctx context.Context, msg types.InboundMessage, note string)
}

var _ Replier = (*respond.Responder)(nil)

// TrustUpdater is the slice of the relationship manager the poller needs.
type TrustUpdater interface {
	UpdateTrust(ctx context.Context, userID string, event trust.Event, botToBot bool) (string, error)
}

var _ TrustUpdater = (*trust.Manager)(nil)

// Poller drains the per-bot pending-actions list and executes each planned
// action. Replies are routed through the response pipeline; reactions, posts,
// and reach-outs go straight to the platform executor.
type Poller struct {
	bot     string
	prefix  string
	rdb     redis.UniversalClient
	exec    ActionExecutor
	replier Replier
	fetch   TargetFetcher
	rel     TrustUpdater
	enq     Enqueuer
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// PollerConfig carries the Poller dependencies.
type PollerConfig struct {
	Bot       string
	KeyPrefix string
	Redis     redis.UniversalClient
	Executor  ActionExecutor
	Replier   Replier
	Fetcher   TargetFetcher
	Trust     TrustUpdater
	Queue     Enqueuer
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig) *Poller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Poller{
		bot:     cfg.Bot,
		prefix:  cfg.KeyPrefix,
		rdb:     cfg.Redis,
		exec:    cfg.Executor,
		replier: cfg.Replier,
		fetch:   cfg.Fetcher,
		rel:     cfg.Trust,
		enq:     cfg.Queue,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Run drains the list once per second until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		p.Poll(ctx)
	}
}

// Poll pops and executes at most one pending action. Exposed so tests can
// drive the poller without real time.
func (p *Poller) Poll(ctx context.Context) {
	raw, err := p.rdb.LPop(ctx, config.PendingActionsKey(p.prefix, p.bot)).Result()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		p.log.Warn("pending actions pop failed", "bot", p.bot, "error", err)
		return
	}

	var cmd types.ActionCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		p.log.Warn("malformed pending action dropped", "bot", p.bot, "error", err)
		return
	}

	if err := p.dispatch(ctx, cmd); err != nil {
		p.log.Warn("autonomous action failed",
			"bot", p.bot,
			"action", string(cmd.ActionType),
			"channel_id", cmd.ChannelID,
			"error", err)
		return
	}
	p.metrics.RecordAutonomousAction(ctx, string(cmd.ActionType))
}

func (p *Poller) dispatch(ctx context.Context, cmd types.ActionCommand) error {
	switch cmd.ActionType {
	case types.ActionReply:
		return p.reply(ctx, cmd)
	case types.ActionReact:
		if err := p.exec.Execute(ctx, cmd); err != nil {
			return err
		}
		if cmd.TargetUserID != "" {
			if _, err := p.rel.UpdateTrust(ctx, cmd.TargetUserID, trust.EventAutonomousInteraction, false); err != nil {
				p.log.Warn("reaction trust credit failed", "user_id", cmd.TargetUserID, "error", err)
			}
		}
		return nil
	case types.ActionPost, types.ActionReachOut:
		return p.exec.Execute(ctx, cmd)
	default:
		return fmt.Errorf("dailylife: unknown action type %q", cmd.ActionType)
	}
}

// reply refetches the target message and runs it through the response
// pipeline with the brain's reason as an internal goal note. The pipeline
// stores both sides of the exchange and applies trust itself, so the poller
// adds no extra credit here.
func (p *Poller) reply(ctx context.Context, cmd types.ActionCommand) error {
	if cmd.TargetMessageID == "" {
		return errors.New("dailylife: reply without target message")
	}
	target, err := p.fetch.FetchMessage(ctx, cmd.ChannelID, cmd.TargetMessageID)
	if err != nil {
		return fmt.Errorf("dailylife: reply target: %w", err)
	}

	msg := types.InboundMessage{
		ID:          target.ID,
		AuthorID:    target.AuthorID,
		AuthorName:  target.AuthorName,
		AuthorIsBot: target.IsBot,
		Content:     target.Content,
		ChannelID:   cmd.ChannelID,
		MentionsBot: target.MentionsBot,
		ReferenceID: target.ReferenceID,
		Timestamp:   target.CreatedAt,
	}
	p.replier.RespondWithNote(ctx, msg, cmd.Reason)

	p.enqueueExtraction(ctx, target.AuthorID)
	return nil
}

// enqueueExtraction schedules session-level knowledge and preference
// extraction for the participant of an autonomous exchange. Session ids are
// keyed by user, channel-free, and day-bucketed so repeated exchanges within
// a day coalesce into one idempotent job pair.
func (p *Poller) enqueueExtraction(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	day := p.now().UTC().Format("2006-01-02")
	sessionID := "auto_" + userID + "_" + p.bot + "_" + day
	args := sessiontrack.SessionArgs{
		UserID:       userID,
		Bot:          p.bot,
		SessionID:    sessionID,
		SessionStart: p.now().UTC().Truncate(24 * time.Hour),
	}

	for _, job := range []struct {
		task  string
		jobID string
	}{
		{sessiontrack.TaskKnowledgeExtraction, sessiontrack.KnowledgeJobID(sessionID)},
		{sessiontrack.TaskPreferenceExtraction, sessiontrack.PreferenceJobID(sessionID)},
	} {
		if _, err := p.enq.Enqueue(ctx, taskqueue.Request{
			Task:  job.task,
			Queue: taskqueue.QueueCognition,
			JobID: job.jobID,
			Args:  args,
		}); err != nil {
			p.log.Warn("extraction enqueue failed", "task", job.task, "user_id", userID, "error", err)
		}
	}
}
