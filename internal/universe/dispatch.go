package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/postgres"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// minRecipientTrust is the relationship floor for receiving gossip about a
// user. Strangers hear nothing.
const minRecipientTrust = 20

// depthFactor is the significance factor recording a gossip memory's hop
// count, so delivered gossip can never feed back into the detector.
const depthFactor = "propagation_depth"

// TrustDirectory reads trust scores across bot boundaries.
type TrustDirectory interface {
	Score(ctx context.Context, bot, userID string) (float64, bool, error)
}

var _ TrustDirectory = (*trust.Directory)(nil)

// CollectionOpener opens another bot's memory collection for gossip delivery.
type CollectionOpener interface {
	Open(ctx context.Context, bot string) (memory.Collection, error)
}

// PoolOpener opens per-bot pgvector collections on a shared pool, caching
// handles per bot.
type PoolOpener struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	cache map[string]memory.Collection
}

var _ CollectionOpener = (*PoolOpener)(nil)

// NewPoolOpener creates an opener on pool.
func NewPoolOpener(pool *pgxpool.Pool) *PoolOpener {
	return &PoolOpener{pool: pool, cache: make(map[string]memory.Collection)}
}

// Open implements [CollectionOpener].
func (o *PoolOpener) Open(ctx context.Context, bot string) (memory.Collection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.cache[bot]; ok {
		return c, nil
	}
	c, err := postgres.OpenWithPool(ctx, o.pool, bot)
	if err != nil {
		return nil, fmt.Errorf("universe: open collection for %s: %w", bot, err)
	}
	o.cache[bot] = c
	return c, nil
}

// Dispatcher performs worker-side gossip delivery: it resolves the eligible
// recipients for an event and writes a gossip memory into each recipient's
// own collection.
type Dispatcher struct {
	sourceBot  string
	recipients []string
	dir        TrustDirectory
	opener     CollectionOpener
	embed      embeddings.Provider
	announcer  Announcer
	log        *slog.Logger
}

// Announcer pushes a public announcement onto other bots' broadcast queues.
type Announcer interface {
	Send(ctx context.Context, recipients []string, content string) error
}

var _ Announcer = (*Broadcaster)(nil)

// NewDispatcher creates a dispatcher for sourceBot. recipients is the
// configured fleet roster; the source bot itself is always skipped.
func NewDispatcher(sourceBot string, recipients []string, dir TrustDirectory, opener CollectionOpener, embed embeddings.Provider, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		sourceBot:  sourceBot,
		recipients: recipients,
		dir:        dir,
		opener:     opener,
		embed:      embed,
		log:        log,
	}
}

// SetAnnouncer wires an optional broadcast announcer. When set, public event
// types that reach at least one recipient are also announced on the fleet's
// broadcast queues.
func (d *Dispatcher) SetAnnouncer(a Announcer) {
	d.announcer = a
}

// RegisterHandlers binds the dispatch task to w.
func (d *Dispatcher) RegisterHandlers(w *taskqueue.Worker) {
	w.Register(TaskGossipDispatch, func(ctx context.Context, job taskqueue.Job) error {
		var ev types.UniverseEvent
		if err := json.Unmarshal(job.Args, &ev); err != nil {
			return fmt.Errorf("universe: dispatch: decode event: %w", err)
		}
		return d.Dispatch(ctx, ev)
	})
}

// Dispatch writes ev as a gossip memory into every eligible recipient's
// collection. A recipient is eligible when the user's trust with them is at
// least the floor. Per-recipient failures are logged and skipped; the event
// is not retried for recipients that already received it.
func (d *Dispatcher) Dispatch(ctx context.Context, ev types.UniverseEvent) error {
	if ev.PropagationDepth > maxPropagationDepth {
		return nil
	}

	content := fmt.Sprintf("%s mentioned: %s", ev.SourceBot, ev.Summary)
	vec, err := d.embed.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("universe: dispatch: embed: %w", err)
	}

	delivered := 0
	for _, recipient := range d.recipients {
		if recipient == d.sourceBot {
			continue
		}
		score, ok, err := d.dir.Score(ctx, recipient, ev.UserID)
		if err != nil {
			d.log.Warn("gossip recipient trust lookup failed",
				"recipient", recipient, "user_id", ev.UserID, "error", err)
			continue
		}
		if !ok || score < minRecipientTrust {
			continue
		}

		coll, err := d.opener.Open(ctx, recipient)
		if err != nil {
			d.log.Warn("gossip delivery failed: collection",
				"recipient", recipient, "error", err)
			continue
		}
		semanticKey := ev.Topic
		if semanticKey == "" {
			semanticKey = "general"
		}
		entry := memory.Memory{
			ID:          uuid.NewString(),
			UserID:      ev.UserID,
			BotName:     recipient,
			Role:        memory.RoleSystem,
			Content:     content,
			Timestamp:   ev.Timestamp,
			MemoryType:  memory.TypeGossip,
			AuthorID:    ev.SourceBot,
			SemanticKey: semanticKey,
			Significance: memory.SignificanceMetadata{
				Overall: 0.3,
				Tier:    memory.TierRoutine,
				Factors: map[string]float64{
					depthFactor: float64(ev.PropagationDepth + 1),
				},
			},
			Vectors: memory.NamedVectors{Content: vec},
		}
		if err := coll.Upsert(ctx, []memory.Memory{entry}); err != nil {
			d.log.Warn("gossip delivery failed: write",
				"recipient", recipient, "user_id", ev.UserID, "error", err)
			continue
		}
		delivered++
	}

	d.log.Info("gossip dispatched",
		"source", ev.SourceBot, "user_id", ev.UserID,
		"event_type", ev.EventType, "delivered", delivered)

	if d.announcer != nil && delivered > 0 && ev.EventType == types.EventGoalAchieved {
		if err := d.announcer.Send(ctx, d.recipients, ev.Summary); err != nil {
			d.log.Warn("broadcast announce failed", "source", ev.SourceBot, "error", err)
		}
	}
	return nil
}
