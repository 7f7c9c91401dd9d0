// Package observe provides application-wide observability primitives for
// WhisperEngine: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all WhisperEngine metrics.
const meterName = "github.com/whisperengine-ai/whisperengine"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RetrievalDuration tracks memory retrieval latency. Use with attribute:
	//   attribute.String("search_type", ...)
	RetrievalDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding request latency.
	EmbeddingDuration metric.Float64Histogram

	// JobDuration tracks background job execution latency. Use with attributes:
	//   attribute.String("queue", ...), attribute.String("task", ...)
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// MemoriesStored counts memory entries written. Use with attribute:
	//   attribute.String("memory_type", ...)
	MemoriesStored metric.Int64Counter

	// Retrievals counts retrieval calls. Use with attributes:
	//   attribute.String("search_type", ...), attribute.String("status", ...)
	Retrievals metric.Int64Counter

	// JobsEnqueued counts jobs pushed to the broker. Use with attributes:
	//   attribute.String("queue", ...), attribute.String("task", ...)
	JobsEnqueued metric.Int64Counter

	// JobsProcessed counts completed job executions. Use with attributes:
	//   attribute.String("queue", ...), attribute.String("task", ...),
	//   attribute.String("status", ...)
	JobsProcessed metric.Int64Counter

	// TrustMilestones counts relationship stage transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TrustMilestones metric.Int64Counter

	// UniverseEventsPublished counts gossip events accepted by the bus.
	UniverseEventsPublished metric.Int64Counter

	// UniverseEventsBlocked counts gossip events dropped before dispatch.
	// Use with attribute: attribute.String("reason", ...)
	UniverseEventsBlocked metric.Int64Counter

	// AutonomousActions counts daily-life actions executed. Use with attribute:
	//   attribute.String("action_type", ...)
	AutonomousActions metric.Int64Counter

	// ReactionsSent counts autonomous emoji reactions.
	ReactionsSent metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks conversation sessions currently inside the
	// inactivity window.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveWorkers tracks jobs currently executing across all queues.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from in-process retrieval to slow LLM calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RetrievalDuration, err = m.Float64Histogram("whisperengine.retrieval.duration",
		metric.WithDescription("Latency of memory retrieval by search type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("whisperengine.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("whisperengine.embedding.duration",
		metric.WithDescription("Latency of embedding requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("whisperengine.job.duration",
		metric.WithDescription("Latency of background job execution by queue and task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MemoriesStored, err = m.Int64Counter("whisperengine.memories.stored",
		metric.WithDescription("Total memory entries written by memory type."),
	); err != nil {
		return nil, err
	}
	if met.Retrievals, err = m.Int64Counter("whisperengine.retrievals",
		metric.WithDescription("Total retrieval calls by search type and status."),
	); err != nil {
		return nil, err
	}
	if met.JobsEnqueued, err = m.Int64Counter("whisperengine.jobs.enqueued",
		metric.WithDescription("Total jobs enqueued by queue and task."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("whisperengine.jobs.processed",
		metric.WithDescription("Total job executions by queue, task, and status."),
	); err != nil {
		return nil, err
	}
	if met.TrustMilestones, err = m.Int64Counter("whisperengine.trust.milestones",
		metric.WithDescription("Total relationship stage transitions."),
	); err != nil {
		return nil, err
	}
	if met.UniverseEventsPublished, err = m.Int64Counter("whisperengine.universe.events.published",
		metric.WithDescription("Total universe events accepted for dispatch."),
	); err != nil {
		return nil, err
	}
	if met.UniverseEventsBlocked, err = m.Int64Counter("whisperengine.universe.events.blocked",
		metric.WithDescription("Total universe events dropped before dispatch, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AutonomousActions, err = m.Int64Counter("whisperengine.autonomous.actions",
		metric.WithDescription("Total daily-life actions executed by action type."),
	); err != nil {
		return nil, err
	}
	if met.ReactionsSent, err = m.Int64Counter("whisperengine.reactions.sent",
		metric.WithDescription("Total autonomous emoji reactions sent."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("whisperengine.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("whisperengine.active_sessions",
		metric.WithDescription("Conversation sessions currently inside the inactivity window."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("whisperengine.active_workers",
		metric.WithDescription("Jobs currently executing across all queues."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("whisperengine.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRetrieval records one retrieval call with its latency.
func (m *Metrics) RecordRetrieval(ctx context.Context, searchType, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("search_type", searchType),
		attribute.String("status", status),
	)
	m.Retrievals.Add(ctx, 1, attrs)
	m.RetrievalDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("search_type", searchType)))
}

// RecordJob records one completed job execution with its latency.
func (m *Metrics) RecordJob(ctx context.Context, queue, task, status string, seconds float64) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("task", task),
			attribute.String("status", status),
		),
	)
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("task", task),
		),
	)
}

// RecordEnqueue records one job pushed to the broker.
func (m *Metrics) RecordEnqueue(ctx context.Context, queue, task string) {
	m.JobsEnqueued.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("task", task),
		),
	)
}

// RecordTrustMilestone records one relationship stage transition.
func (m *Metrics) RecordTrustMilestone(ctx context.Context, from, to string) {
	m.TrustMilestones.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBlockedUniverseEvent records one universe event dropped before dispatch.
func (m *Metrics) RecordBlockedUniverseEvent(ctx context.Context, reason string) {
	m.UniverseEventsBlocked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordAutonomousAction records one executed daily-life action.
func (m *Metrics) RecordAutonomousAction(ctx context.Context, actionType string) {
	m.AutonomousActions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action_type", actionType)),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
