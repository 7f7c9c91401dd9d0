package dailylife

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/observe"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// Reaction rate limits. The daily cap is global per bot; the channel cap is
// per hour; the user cooldown stops the bot from piling onto one person.
const (
	reactionDailyCap   = 50
	reactionChannelCap = 6
	reactionUserCool   = 10 * time.Minute

	reactionDelayMin = 2 * time.Second
	reactionDelayMax = 15 * time.Second
)

// reactionKind is the output of the rule classifier.
type reactionKind string

const (
	kindAgreement  reactionKind = "agreement"
	kindExcitement reactionKind = "excitement"
	kindSupport    reactionKind = "support"
	kindHumor      reactionKind = "humor"
	kindNone       reactionKind = ""
)

// fallbackEmojis covers characters without a configured palette.
var fallbackEmojis = map[reactionKind][]string{
	kindAgreement:  {"👍", "💯"},
	kindExcitement: {"🎉", "🔥", "✨"},
	kindSupport:    {"❤️", "🫂"},
	kindHumor:      {"😂", "😆"},
}

// Reactor sends spontaneous emoji reactions to incoming human messages. It
// never calls an LLM: a phrase-list classifier picks the reaction kind, Redis
// counters enforce the caps, and a short random delay keeps the timing from
// looking mechanical.
type Reactor struct {
	bot    string
	prefix string
	def    *character.Definition
	flags  func() config.AutonomyConfig
	rdb    redis.UniversalClient
	exec   ActionExecutor
	mtr    *observe.Metrics
	log    *slog.Logger

	now       func() time.Time
	randFloat func() float64
	randN     func(n int) int
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewReactor creates a Reactor.
func NewReactor(bot, prefix string, def *character.Definition, flags func() config.AutonomyConfig, rdb redis.UniversalClient, exec ActionExecutor, mtr *observe.Metrics, log *slog.Logger) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	if mtr == nil {
		mtr = observe.DefaultMetrics()
	}
	return &Reactor{
		bot:       bot,
		prefix:    prefix,
		def:       def,
		flags:     flags,
		rdb:       rdb,
		exec:      exec,
		mtr:       mtr,
		log:       log,
		now:       time.Now,
		randFloat: rand.Float64,
		randN:     rand.IntN,
		sleep:     sleepCtx,
	}
}

// Consider decides whether to react to msg and, if so, reacts after a short
// delay. The adapter calls it in a goroutine for every accepted human
// message; it returns the emojis sent, or nil when no reaction fired.
func (r *Reactor) Consider(ctx context.Context, msg types.InboundMessage) ([]string, error) {
	if !r.flags().EnableReactions || msg.AuthorIsBot {
		return nil, nil
	}
	if r.def.ReactionRate <= 0 || r.randFloat() >= r.def.ReactionRate {
		return nil, nil
	}

	kind := classifyReaction(msg.Content)
	if kind == kindNone {
		return nil, nil
	}

	ok, err := r.withinLimits(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("dailylife: reaction limits: %w", err)
	}
	if !ok {
		return nil, nil
	}

	emojis := r.pickEmojis(kind)
	if err := r.sleep(ctx, r.delay()); err != nil {
		return nil, err
	}

	for _, e := range emojis {
		cmd := types.ActionCommand{
			ActionType:      types.ActionReact,
			ChannelID:       msg.ChannelID,
			TargetMessageID: msg.ID,
			TargetUserID:    msg.AuthorID,
			Emoji:           e,
		}
		if err := r.exec.Execute(ctx, cmd); err != nil {
			return nil, fmt.Errorf("dailylife: send reaction: %w", err)
		}
	}
	r.mtr.RecordAutonomousAction(ctx, "reaction")
	r.log.Debug("reacted",
		"bot", r.bot,
		"channel_id", msg.ChannelID,
		"kind", string(kind),
		"emojis", strings.Join(emojis, " "))
	return emojis, nil
}

// withinLimits checks and advances the three rate-limit counters. The user
// cooldown is claimed last so a capped reaction does not burn it.
func (r *Reactor) withinLimits(ctx context.Context, msg types.InboundMessage) (bool, error) {
	now := r.now().UTC()

	dailyKey := config.ReactionDailyKey(r.prefix, r.bot, now.Format("2006-01-02"))
	daily, err := r.rdb.Incr(ctx, dailyKey).Result()
	if err != nil {
		return false, err
	}
	if daily == 1 {
		r.rdb.Expire(ctx, dailyKey, 24*time.Hour)
	}
	if daily > reactionDailyCap {
		return false, nil
	}

	chanKey := config.ReactionChannelKey(r.prefix, r.bot, msg.ChannelID, now.Format("2006-01-02T15"))
	perChan, err := r.rdb.Incr(ctx, chanKey).Result()
	if err != nil {
		return false, err
	}
	if perChan == 1 {
		r.rdb.Expire(ctx, chanKey, time.Hour)
	}
	if perChan > reactionChannelCap {
		return false, nil
	}

	free, err := r.rdb.SetNX(ctx, config.ReactionUserKey(r.prefix, r.bot, msg.AuthorID), "1", reactionUserCool).Result()
	if err != nil {
		return false, err
	}
	return free, nil
}

// pickEmojis selects one or two emojis for the kind, preferring the
// character's palette over the generic fallback.
func (r *Reactor) pickEmojis(kind reactionKind) []string {
	pool := r.def.EmojiPalette
	if len(pool) == 0 {
		pool = fallbackEmojis[kind]
	}
	if len(pool) == 0 {
		return []string{"👍"}
	}

	// Roughly a third of reactions use two emojis.
	n := 1
	if len(pool) > 1 && r.randN(10) < 3 {
		n = 2
	}
	first := r.randN(len(pool))
	out := []string{pool[first]}
	if n == 2 {
		second := r.randN(len(pool) - 1)
		if second >= first {
			second++
		}
		out = append(out, pool[second])
	}
	return out
}

// delay draws the pre-reaction pause.
func (r *Reactor) delay() time.Duration {
	return reactionDelayMin + time.Duration(r.randFloat()*float64(reactionDelayMax-reactionDelayMin))
}

// classifyReaction maps a message to a reaction kind by phrase lists. It is
// deliberately cheap and conservative: unrecognised messages get no reaction.
func classifyReaction(content string) reactionKind {
	text := strings.ToLower(content)
	if text == "" {
		return kindNone
	}

	switch {
	case containsAny(text, "lol", "lmao", "haha", "hahaha", "😂", "🤣", "hilarious", "dying"):
		return kindHumor
	case containsAny(text, "so excited", "can't wait", "cant wait", "amazing news", "finally!", "we did it", "i did it", "i got the", "i passed", "it worked"):
		return kindExcitement
	case containsAny(text, "rough day", "feeling down", "that sucks", "i'm struggling", "im struggling", "so tired", "stressed out", "wish me luck"):
		return kindSupport
	case containsAny(text, "exactly", "agreed", "so true", "this!", "well said", "100%", "couldn't agree more", "couldnt agree more"):
		return kindAgreement
	}
	return kindNone
}

func containsAny(text string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
