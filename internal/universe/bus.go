package universe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/whisperengine-ai/whisperengine/internal/observe"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// TaskGossipDispatch is the worker-side delivery task.
const TaskGossipDispatch = "run_gossip_dispatch"

// maxPropagationDepth is the highest depth the bus will still publish.
// Gossip of gossip (depth 2) never leaves the source bot.
const maxPropagationDepth = 1

// GossipJobID is the deterministic id throttling repeat events of the same
// kind for the same user.
func GossipJobID(userID, sourceBot string, eventType string) string {
	return "gossip_" + userID + "_" + sourceBot + "_" + eventType
}

// Enqueuer is the slice of the task queue the bus needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req taskqueue.Request) (string, error)
}

// Bus is the publication gate. Every candidate event passes the master
// switch, the propagation-depth cap, the sensitive-topic filter, and the
// user opt-out list before it is queued for dispatch.
type Bus struct {
	enq     Enqueuer
	enabled func() bool
	optOut  map[string]struct{}
	metrics *observe.Metrics
	log     *slog.Logger
}

// BusOption configures a [Bus].
type BusOption func(*Bus)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) BusOption {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) BusOption {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBus creates the publication gate. enabled is read on every publish so a
// config reload can flip the master switch without a restart; optOutUserIDs
// lists users whose events never leave this bot.
func NewBus(enq Enqueuer, enabled func() bool, optOutUserIDs []string, opts ...BusOption) *Bus {
	optOut := make(map[string]struct{}, len(optOutUserIDs))
	for _, id := range optOutUserIDs {
		optOut[id] = struct{}{}
	}
	b := &Bus{
		enq:     enq,
		enabled: enabled,
		optOut:  optOut,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish gates ev and enqueues gossip dispatch when it passes. Returns
// whether the event was accepted.
func (b *Bus) Publish(ctx context.Context, ev types.UniverseEvent) (bool, error) {
	if !b.enabled() {
		return false, nil
	}
	if ev.PropagationDepth > maxPropagationDepth {
		b.metrics.RecordBlockedUniverseEvent(ctx, "propagation_depth")
		b.log.Debug("universe event dropped: propagation depth",
			"source", ev.SourceBot, "user_id", ev.UserID, "depth", ev.PropagationDepth)
		return false, nil
	}
	if topic, ok := SensitiveTopic(ev); ok {
		b.metrics.RecordBlockedUniverseEvent(ctx, "sensitive_topic")
		b.log.Debug("universe event dropped: sensitive topic",
			"source", ev.SourceBot, "user_id", ev.UserID, "topic", topic)
		return false, nil
	}
	if _, ok := b.optOut[ev.UserID]; ok {
		b.metrics.RecordBlockedUniverseEvent(ctx, "opt_out")
		return false, nil
	}

	id, err := b.enq.Enqueue(ctx, taskqueue.Request{
		Task:  TaskGossipDispatch,
		Queue: taskqueue.QueueSocial,
		JobID: GossipJobID(ev.UserID, ev.SourceBot, string(ev.EventType)),
		Args:  ev,
	})
	if err != nil {
		return false, fmt.Errorf("universe: publish: %w", err)
	}
	if id == "" {
		// An identical event is already in flight.
		return false, nil
	}
	b.metrics.UniverseEventsPublished.Add(ctx, 1)
	b.log.Info("universe event published",
		"source", ev.SourceBot, "user_id", ev.UserID,
		"event_type", ev.EventType, "topic", ev.Topic)
	return true, nil
}
