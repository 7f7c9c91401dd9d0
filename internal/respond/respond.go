// Package respond implements the response hot path: moderation gating, hot
// context assembly, prompt construction, streamed LLM delivery, memory
// persistence, trust accounting, session tracking, and post-response
// universe detection.
//
// The pipeline's ordering is deliberate: retrieval runs before the store so
// a turn can never surface itself as its own memory. No error escapes
// [Responder.Respond]; every failure maps to a scripted response from the
// character definition.
package respond

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/hotctx"
	"github.com/whisperengine-ai/whisperengine/internal/sessiontrack"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/internal/universe"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/conversation"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// replyTemperature keeps conversational replies warm but coherent.
const replyTemperature = 0.7

// Trust is the relationship surface the responder needs.
type Trust interface {
	GetRelationship(ctx context.Context, userID string) (*trust.Relationship, error)
	UpdateTrust(ctx context.Context, userID string, event trust.Event, botToBot bool) (string, error)
	UnlockTrait(ctx context.Context, userID, trait string) error
}

var _ Trust = (*trust.Manager)(nil)

// Sessions is the session boundary surface the responder needs.
type Sessions interface {
	Observe(ctx context.Context, userID, channelID string) sessiontrack.Session
	CheckAndSummarize(ctx context.Context, userID string) (bool, error)
}

var _ Sessions = (*sessiontrack.Tracker)(nil)

// Store persists one user/bot exchange.
type Store interface {
	StoreConversation(ctx context.Context, turn conversation.Turn) error
}

var _ Store = (*conversation.Store)(nil)

// Publisher is the universe bus surface.
type Publisher interface {
	Publish(ctx context.Context, ev types.UniverseEvent) (bool, error)
}

var _ Publisher = (*universe.Bus)(nil)

// Stats receives response-path latency samples. Optional; wired by the
// adapter that wants to expose them.
type Stats interface {
	RecordAssembly(d time.Duration)
	RecordGeneration(d time.Duration)
	RecordResponse(d time.Duration)
	IncrErrors()
}

// Responder runs the full response pipeline for one bot.
type Responder struct {
	def      *character.Definition
	asm      *hotctx.Assembler
	store    Store
	rel      Trust
	sessions Sessions
	detector *universe.Detector
	bus      Publisher
	chat     llm.Provider
	streamer *Streamer
	stats    Stats
	log      *slog.Logger
	now      func() time.Time
}

// New wires a responder. detector and bus may be nil when universe events
// are disabled.
func New(
	def *character.Definition,
	asm *hotctx.Assembler,
	store Store,
	rel Trust,
	sessions Sessions,
	detector *universe.Detector,
	bus Publisher,
	chat llm.Provider,
	streamer *Streamer,
	log *slog.Logger,
) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		def:      def,
		asm:      asm,
		store:    store,
		rel:      rel,
		sessions: sessions,
		detector: detector,
		bus:      bus,
		chat:     chat,
		streamer: streamer,
		log:      log,
		now:      time.Now,
	}
}

// SetStats attaches a latency/counter recorder to the hot path.
func (r *Responder) SetStats(st Stats) { r.stats = st }

// Respond handles one inbound message end to end. It never returns an error;
// failures degrade to a scripted response and are logged.
func (r *Responder) Respond(ctx context.Context, msg types.InboundMessage) {
	r.RespondWithNote(ctx, msg, "")
}

// RespondWithNote is [Responder.Respond] with an internal context note
// appended to the system prompt. The daily-life loop uses it to tell the
// model why the bot chose to join the conversation.
func (r *Responder) RespondWithNote(ctx context.Context, msg types.InboundMessage, note string) {
	userID := msg.AuthorID
	start := r.now()

	// Moderation gate first: a timed-out user gets a cold scripted line and
	// nothing else happens — no retrieval, no memory write, no trust change.
	rel, err := r.rel.GetRelationship(ctx, userID)
	if err != nil {
		r.log.Warn("relationship lookup failed", "user_id", userID, "error", err)
	}
	if rel != nil && rel.InModerationTimeout(r.now()) {
		r.deliver(ctx, msg.ChannelID, r.def.ColdResponse())
		return
	}

	sess := r.sessions.Observe(ctx, userID, msg.ChannelID)

	// Retrieval runs before the store so this turn never echoes back as its
	// own memory.
	hctx := r.asm.Assemble(ctx, userID, msg.Content)
	if r.stats != nil {
		r.stats.RecordAssembly(hctx.AssemblyDuration)
	}

	var traits []string
	score := 0.0
	if rel != nil {
		score = rel.TrustScore
		traits = r.def.TraitsFor(score)
	}
	prompt := hotctx.FormatSystemPrompt(hctx, r.def.Name, r.def.Persona, traits)
	if note != "" {
		prompt += "\n\n## Why You Are Speaking Up\n" + note
	}

	genStart := r.now()
	chunks, err := r.chat.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages: []types.Message{
			{Role: "user", Content: msg.Content},
		},
		Temperature: replyTemperature,
	})
	if err != nil {
		r.log.Error("completion failed to start", "user_id", userID, "error", err)
		r.fail(ctx, msg.ChannelID)
		return
	}

	reply, err := r.streamer.Stream(ctx, msg.ChannelID, chunks)
	if r.stats != nil {
		r.stats.RecordGeneration(r.now().Sub(genStart))
	}
	if err != nil {
		r.log.Error("stream delivery failed", "user_id", userID, "error", err)
		if reply == "" {
			r.fail(ctx, msg.ChannelID)
			return
		}
		// Partial delivery: the user saw something, so remember it.
	}
	if strings.TrimSpace(reply) == "" {
		r.fail(ctx, msg.ChannelID)
		return
	}

	if r.stats != nil {
		r.stats.RecordResponse(r.now().Sub(start))
	}
	r.afterResponse(ctx, msg, sess, reply, score)
}

// fail delivers a scripted error line and counts the failure.
func (r *Responder) fail(ctx context.Context, channelID string) {
	if r.stats != nil {
		r.stats.IncrErrors()
	}
	r.deliver(ctx, channelID, r.def.ErrorResponse())
}

// afterResponse runs the post-delivery bookkeeping: memory write, trust
// update, session scheduling, universe detection. All best-effort.
func (r *Responder) afterResponse(ctx context.Context, msg types.InboundMessage, sess sessiontrack.Session, reply string, score float64) {
	userID := msg.AuthorID

	if err := r.store.StoreConversation(ctx, conversation.Turn{
		UserID:      userID,
		UserMessage: msg.Content,
		BotResponse: reply,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.ID,
		SessionID:   sess.ID,
		Timestamp:   msg.Timestamp,
	}); err != nil {
		r.log.Warn("conversation store failed", "user_id", userID, "error", err)
	}

	event := classifyTrustEvent(msg.Content)
	milestone, err := r.rel.UpdateTrust(ctx, userID, event, msg.AuthorIsBot)
	if err != nil {
		r.log.Warn("trust update failed", "user_id", userID, "error", err)
	} else if milestone != "" {
		r.unlockStageTraits(ctx, userID, score+trust.DeltaFor(event, msg.AuthorIsBot))
		r.deliver(ctx, msg.ChannelID, milestone)
	}

	if _, err := r.sessions.CheckAndSummarize(ctx, userID); err != nil {
		r.log.Warn("session scheduling failed", "user_id", userID, "error", err)
	}

	if r.detector != nil && r.bus != nil && !msg.AuthorIsBot {
		if ev, ok := r.detector.Detect(userID, msg.Content); ok {
			if _, err := r.bus.Publish(ctx, ev); err != nil {
				r.log.Warn("universe publish failed", "user_id", userID, "error", err)
			}
		}
	}
}

// unlockStageTraits grants every trait the new score entitles the user to.
func (r *Responder) unlockStageTraits(ctx context.Context, userID string, score float64) {
	for _, trait := range r.def.TraitsFor(score) {
		if err := r.rel.UnlockTrait(ctx, userID, trait); err != nil {
			r.log.Warn("trait unlock failed", "user_id", userID, "trait", trait, "error", err)
		}
	}
}

// deliver sends a single non-streamed message, logging delivery failures.
func (r *Responder) deliver(ctx context.Context, channelID, content string) {
	if _, err := r.streamer.sink.Send(ctx, channelID, content); err != nil {
		r.log.Warn("delivery failed", "channel_id", channelID, "error", err)
	}
}

// vulnerabilityPhrases mark a turn as a vulnerability moment (+5).
var vulnerabilityPhrases = []string{
	"i've never told anyone", "ive never told anyone", "i never told anyone",
	"hard for me to say", "hard for me to admit", "i'm scared to tell",
	"don't judge me", "dont judge me", "i trust you with this",
	"between you and me", "opening up about",
}

// hostilityPhrases mark a turn as a boundary violation (-3).
var hostilityPhrases = []string{
	"shut up", "you're useless", "youre useless", "i hate you",
	"stupid bot", "dumb bot", "worthless",
}

// classifyTrustEvent maps a user turn to a trust event by cheap rule.
// The default is an ordinary positive turn.
func classifyTrustEvent(text string) trust.Event {
	lower := strings.ToLower(text)
	for _, p := range hostilityPhrases {
		if strings.Contains(lower, p) {
			return trust.EventBoundaryViolation
		}
	}
	for _, p := range vulnerabilityPhrases {
		if strings.Contains(lower, p) {
			return trust.EventVulnerabilityMoment
		}
	}
	return trust.EventPositiveTurn
}
