package dailylife

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

const (
	// perceiveTopK bounds how many scored candidates reach the planner.
	perceiveTopK = 5

	// perceiveMaxAge drops stale snapshot messages; anything older is no
	// longer worth joining.
	perceiveMaxAge = 15 * time.Minute

	// relevanceFloor is the minimum interest-cosine a message needs to be a
	// candidate at all.
	relevanceFloor = 0.35

	// postProbability is the per-tick dice for a quiet-channel post.
	postProbability = 0.1

	// selfCooldown suppresses new autonomous actions right after one fired.
	selfCooldown = 60 * time.Second

	// maxPlansPerTick caps how much one tick can do.
	maxPlansPerTick = 3

	plannerTemperature  = 0.3
	creativeTemperature = 0.9
)

// Relationships is the trust surface the brain needs.
type Relationships interface {
	GetRelationship(ctx context.Context, userID string) (*trust.Relationship, error)
}

var _ Relationships = (*trust.Manager)(nil)

// candidate is one snapshot message scored against the character's
// interests.
type candidate struct {
	Message  types.MessageSnapshot
	Score    float64
	Interest string
}

// plannedAction is the planner LLM's output shape.
type plannedAction struct {
	Action          string `json:"action"`
	ChannelID       string `json:"channel_id"`
	TargetMessageID string `json:"target_message_id,omitempty"`
	TargetUserID    string `json:"target_user_id,omitempty"`
	Emoji           string `json:"emoji,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Brain is the worker-side half of the loop: perceive → plan → execute over
// one sensory snapshot, emitting action commands onto the pending list.
type Brain struct {
	bot       string
	botUserID string
	prefix    string
	def       *character.Definition
	flags     func() config.AutonomyConfig
	embed     embeddings.Provider
	chat      llm.Provider
	rel       Relationships
	rdb       redis.UniversalClient
	log       *slog.Logger
	now       func() time.Time
	randFloat func() float64
}

// NewBrain wires a Brain. flags is read per pass so reloaded switches take
// effect without a restart.
func NewBrain(bot, botUserID, prefix string, def *character.Definition, flags func() config.AutonomyConfig, embed embeddings.Provider, chat llm.Provider, rel Relationships, rdb redis.UniversalClient, log *slog.Logger) *Brain {
	if log == nil {
		log = slog.Default()
	}
	return &Brain{
		bot:       bot,
		botUserID: botUserID,
		prefix:    prefix,
		def:       def,
		flags:     flags,
		embed:     embed,
		chat:      chat,
		rel:       rel,
		rdb:       rdb,
		log:       log,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// ProcessSnapshot runs one full brain pass and pushes the resulting action
// commands to the pending list.
func (b *Brain) ProcessSnapshot(ctx context.Context, snap types.SensorySnapshot) error {
	cfg := b.flags()
	if !cfg.EnableActivity {
		return nil
	}
	if cooling, err := b.inSelfCooldown(ctx); err != nil {
		return err
	} else if cooling {
		return nil
	}

	candidates, err := b.perceive(ctx, cfg, snap)
	if err != nil {
		return fmt.Errorf("dailylife: perceive: %w", err)
	}

	plans := b.plan(ctx, cfg, candidates)
	plans = b.maybeQuietPost(ctx, cfg, snap, plans)
	if len(plans) == 0 {
		return nil
	}

	cmds, err := b.execute(ctx, plans)
	if err != nil {
		return fmt.Errorf("dailylife: execute: %w", err)
	}
	return b.pushActions(ctx, cmds)
}

// HandleTrigger runs a brain pass over a single just-arrived message.
func (b *Brain) HandleTrigger(ctx context.Context, args TriggerArgs) error {
	snap := types.SensorySnapshot{
		BotName:   b.bot,
		Timestamp: b.now().UTC(),
		Channels: []types.ChannelSnapshot{
			{ChannelID: args.Message.ChannelID, Messages: []types.MessageSnapshot{args.Message}},
		},
	}
	return b.ProcessSnapshot(ctx, snap)
}

// perceive scores every eligible snapshot message against the character's
// interest set by embedding cosine and keeps the top K.
func (b *Brain) perceive(ctx context.Context, cfg config.AutonomyConfig, snap types.SensorySnapshot) ([]candidate, error) {
	if !cfg.EnableChannelLurking || len(b.def.Interests) == 0 {
		return nil, nil
	}

	var eligible []types.MessageSnapshot
	for _, ch := range snap.Channels {
		for _, m := range ch.Messages {
			switch {
			case m.AuthorID == b.botUserID:
			case m.IsBot && !cfg.EnableBotConversations:
			case m.MentionsBot:
				// Mentions are handled on the hot path.
			case strings.TrimSpace(m.Content) == "":
			case snap.Timestamp.Sub(m.CreatedAt) > perceiveMaxAge:
			default:
				eligible = append(eligible, m)
			}
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	interestVecs, err := b.embed.EmbedBatch(ctx, b.def.Interests)
	if err != nil {
		return nil, fmt.Errorf("embed interests: %w", err)
	}
	texts := make([]string, len(eligible))
	for i, m := range eligible {
		texts[i] = m.Content
	}
	msgVecs, err := b.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed messages: %w", err)
	}

	var out []candidate
	for i, m := range eligible {
		best, bestInterest := 0.0, ""
		for j, iv := range interestVecs {
			if score := nvector.Cosine(msgVecs[i], iv); score > best {
				best, bestInterest = score, b.def.Interests[j]
			}
		}
		if best < relevanceFloor {
			continue
		}
		out = append(out, candidate{Message: m, Score: best, Interest: bestInterest})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > perceiveTopK {
		out = out[:perceiveTopK]
	}
	return out, nil
}

// plan asks the planner LLM to choose actions for the candidates, then
// re-enforces the autonomy flags on whatever comes back. A malformed plan
// aborts that action, never the pass.
func (b *Brain) plan(ctx context.Context, cfg config.AutonomyConfig, candidates []candidate) []plannedAction {
	if len(candidates) == 0 {
		return nil
	}
	if !cfg.EnableReplies && !cfg.EnableReactions {
		return nil
	}

	resp, err := b.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: b.plannerPrompt(ctx, cfg),
		Messages: []types.Message{
			{Role: "user", Content: b.formatCandidates(ctx, candidates)},
		},
		Temperature: plannerTemperature,
	})
	if err != nil {
		b.log.Warn("planner call failed", "bot", b.bot, "error", err)
		return nil
	}

	var plans []plannedAction
	if err := decodeJSON(resp.Content, &plans); err != nil {
		b.log.Warn("planner output unparseable", "bot", b.bot, "error", err)
		return nil
	}

	return enforceFlags(cfg, plans)
}

// plannerPrompt describes the character and the decision contract.
func (b *Brain) plannerPrompt(ctx context.Context, cfg config.AutonomyConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You decide whether the character %s joins ongoing channel conversations.\n", b.def.Name)
	sb.WriteString(b.def.Persona)
	sb.WriteString("\n\nYou will receive candidate messages with relevance scores and the character's relationship with each author.\n")
	sb.WriteString("Allowed actions:")
	if cfg.EnableReplies {
		sb.WriteString(` "reply" (a substantive response is warranted),`)
	}
	if cfg.EnableReactions {
		sb.WriteString(` "react" (agreement or disagreement worth an emoji),`)
	}
	sb.WriteString(` "ignore".` + "\n")
	sb.WriteString("Respond with a JSON array only, no prose: " +
		`[{"action":"reply|react|ignore","channel_id":"...","target_message_id":"...","target_user_id":"...","emoji":"...","reason":"..."}]` + "\n")
	sb.WriteString("Choose at most " + fmt.Sprint(maxPlansPerTick) + " actions. Prefer ignore when in doubt; the character should feel present, not noisy.")
	return sb.String()
}

// formatCandidates renders the scored messages plus relationship context
// for the planner.
func (b *Brain) formatCandidates(ctx context.Context, candidates []candidate) string {
	var sb strings.Builder
	for i, c := range candidates {
		m := c.Message
		fmt.Fprintf(&sb, "%d. [channel %s, message %s] %s (user %s): %q\n", i+1, m.ChannelID, m.ID, m.AuthorName, m.AuthorID, m.Content)
		fmt.Fprintf(&sb, "   relevance %.2f via interest %q\n", c.Score, c.Interest)
		if rel, err := b.rel.GetRelationship(ctx, m.AuthorID); err == nil && rel != nil {
			fmt.Fprintf(&sb, "   relationship: %s (trust %.0f)\n", rel.Stage(), rel.TrustScore)
		}
	}
	return sb.String()
}

// enforceFlags drops any plan the current switches do not allow. The
// planner saw the flags too, but a stale or hallucinated plan must never
// bypass a disabled action type.
func enforceFlags(cfg config.AutonomyConfig, plans []plannedAction) []plannedAction {
	var out []plannedAction
	for _, p := range plans {
		switch p.Action {
		case "reply":
			if !cfg.EnableReplies || p.ChannelID == "" || p.TargetMessageID == "" {
				continue
			}
		case "react":
			if !cfg.EnableReactions || p.ChannelID == "" || p.TargetMessageID == "" {
				continue
			}
		case "post":
			if !cfg.EnablePosting || p.ChannelID == "" {
				continue
			}
		default:
			continue
		}
		out = append(out, p)
		if len(out) == maxPlansPerTick {
			break
		}
	}
	return out
}

// maybeQuietPost adds a post plan when nothing reactive was chosen, an
// eligible channel has been quiet past the cooldown, and the dice agree.
func (b *Brain) maybeQuietPost(ctx context.Context, cfg config.AutonomyConfig, snap types.SensorySnapshot, plans []plannedAction) []plannedAction {
	if !cfg.EnablePosting || len(plans) > 0 {
		return plans
	}
	quiet := quietChannel(snap, cfg.PostCooldown)
	if quiet == "" {
		return plans
	}
	if b.randFloat() >= postProbability {
		return plans
	}
	return append(plans, plannedAction{
		Action:    "post",
		ChannelID: quiet,
		Reason:    "channel has been quiet",
	})
}

// quietChannel returns the first watched channel whose newest message is
// older than cooldown, or "" when none qualifies.
func quietChannel(snap types.SensorySnapshot, cooldown time.Duration) string {
	for _, ch := range snap.Channels {
		if len(ch.Messages) == 0 {
			continue
		}
		newest := ch.Messages[len(ch.Messages)-1].CreatedAt
		if snap.Timestamp.Sub(newest) > cooldown {
			return ch.ChannelID
		}
	}
	return ""
}

// execute turns plans into action commands. Replies carry no content — the
// poller routes them through the main response pipeline; posts get a short
// in-character thought from the creative LLM here.
func (b *Brain) execute(ctx context.Context, plans []plannedAction) ([]types.ActionCommand, error) {
	var cmds []types.ActionCommand
	for _, p := range plans {
		switch p.Action {
		case "reply":
			cmds = append(cmds, types.ActionCommand{
				ActionType:      types.ActionReply,
				ChannelID:       p.ChannelID,
				TargetMessageID: p.TargetMessageID,
				TargetUserID:    p.TargetUserID,
				Reason:          p.Reason,
			})
		case "react":
			emoji := p.Emoji
			if emoji == "" {
				emoji = b.pickEmoji()
			}
			if emoji == "" {
				continue
			}
			cmds = append(cmds, types.ActionCommand{
				ActionType:      types.ActionReact,
				ChannelID:       p.ChannelID,
				TargetMessageID: p.TargetMessageID,
				TargetUserID:    p.TargetUserID,
				Emoji:           emoji,
				Reason:          p.Reason,
			})
		case "post":
			content, err := b.composePost(ctx)
			if err != nil {
				b.log.Warn("post composition failed", "bot", b.bot, "error", err)
				continue
			}
			if content == "" {
				continue
			}
			cmds = append(cmds, types.ActionCommand{
				ActionType: types.ActionPost,
				ChannelID:  p.ChannelID,
				Content:    content,
				Reason:     p.Reason,
			})
		}
	}
	return cmds, nil
}

// composePost asks the creative LLM for a short in-character thought about
// a randomly picked interest.
func (b *Brain) composePost(ctx context.Context) (string, error) {
	topic := ""
	if len(b.def.Interests) > 0 {
		topic = b.def.Interests[int(b.randFloat()*float64(len(b.def.Interests)))%len(b.def.Interests)]
	}
	prompt := fmt.Sprintf("Share one short, casual thought (1-2 sentences) about %s. Write it as a channel message, not an announcement.", topic)
	resp, err := b.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are %s. %s", b.def.Name, b.def.Persona),
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		Temperature:  creativeTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// pickEmoji draws from the character's palette.
func (b *Brain) pickEmoji() string {
	if len(b.def.EmojiPalette) == 0 {
		return ""
	}
	return b.def.EmojiPalette[int(b.randFloat()*float64(len(b.def.EmojiPalette)))%len(b.def.EmojiPalette)]
}

// pushActions RPUSHes each command onto the pending list and arms the
// self-cooldown.
func (b *Brain) pushActions(ctx context.Context, cmds []types.ActionCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	key := config.PendingActionsKey(b.prefix, b.bot)
	for _, cmd := range cmds {
		raw, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("dailylife: marshal action: %w", err)
		}
		if err := b.rdb.RPush(ctx, key, raw).Err(); err != nil {
			return fmt.Errorf("dailylife: push action: %w", err)
		}
	}
	if err := b.rdb.Set(ctx, config.LastAutonomousActionKey(b.prefix, b.bot), b.now().UTC().Format(time.RFC3339), selfCooldown).Err(); err != nil {
		b.log.Warn("self-cooldown set failed", "bot", b.bot, "error", err)
	}
	b.log.Info("autonomous actions queued", "bot", b.bot, "count", len(cmds))
	return nil
}

// inSelfCooldown reports whether an autonomous action fired too recently.
func (b *Brain) inSelfCooldown(ctx context.Context) (bool, error) {
	_, err := b.rdb.Get(ctx, config.LastAutonomousActionKey(b.prefix, b.bot)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dailylife: self-cooldown check: %w", err)
	}
	return true, nil
}

// decodeJSON unmarshals LLM output into v, trimming surrounding prose and
// repairing almost-JSON before giving up.
func decodeJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if i := strings.IndexAny(text, "[{"); i >= 0 {
		if j := strings.LastIndexAny(text, "]}"); j > i {
			text = text[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return fmt.Errorf("parse llm json: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), v); err != nil {
			return fmt.Errorf("parse llm json after repair: %w", err)
		}
	}
	return nil
}
