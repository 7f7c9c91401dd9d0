// Package taskqueue implements the Redis-backed job queue that carries all
// background work: post-conversation processing, the daily-life brain, and
// gossip dispatch.
//
// Jobs live on named Redis lists (arq:<queue>). Delivery is at-least-once;
// callers that need exactly-once effects supply a deterministic job id, which
// the queue deduplicates with a SET NX TTL marker while the job is pending.
// Deferred jobs wait in a per-queue sorted set until due.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/observe"
)

// Named queues. Routing is explicit per capability: cognition carries the
// daily-life brain and post-conversation analysis, sensory carries snapshot
// ingest, action carries execution side effects, social carries gossip.
const (
	QueueCognition = "cognition"
	QueueSensory   = "sensory"
	QueueAction    = "action"
	QueueSocial    = "social"
)

// Queues lists every named queue a worker fleet should drain.
var Queues = []string{QueueCognition, QueueSensory, QueueAction, QueueSocial}

// pendingTTL bounds how long an idempotency marker survives if the job is
// never processed (worker crash between pop and completion).
const pendingTTL = 10 * time.Minute

// Job is one unit of background work.
type Job struct {
	ID    string          `json:"id"`
	Task  string          `json:"task"`
	Queue string          `json:"queue"`
	Args  json.RawMessage `json:"args,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	// RunAt, when set, is the earliest time the job may execute.
	RunAt time.Time `json:"run_at,omitzero"`
	// Attempt counts executions so far; zero for a fresh job.
	Attempt int `json:"attempt"`
}

// Request describes a job to enqueue.
type Request struct {
	// Task names the registered handler.
	Task string

	// Queue is one of the named queues. Required.
	Queue string

	// JobID, when non-empty, makes the enqueue idempotent: a second call with
	// the same id while the first job is pending is a no-op.
	JobID string

	// DeferBy delays execution by the given duration.
	DeferBy time.Duration

	// Args is the handler payload; marshalled to JSON.
	Args any
}

// Queue is the enqueue side of the broker. Safe for concurrent use.
type Queue struct {
	rdb     redis.UniversalClient
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Queue on rdb. metrics and log may be nil.
func New(rdb redis.UniversalClient, metrics *observe.Metrics, log *slog.Logger) *Queue {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{rdb: rdb, metrics: metrics, log: log}
}

// Enqueue pushes a job onto its named queue. Returns the job id, or the empty
// string when an identical job id is already pending (idempotent no-op).
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.Task == "" {
		return "", fmt.Errorf("taskqueue: enqueue: empty task name")
	}
	if req.Queue == "" {
		return "", fmt.Errorf("taskqueue: enqueue: empty queue name")
	}

	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	} else {
		ok, err := q.rdb.SetNX(ctx, pendingKey(id), "1", pendingTTL).Result()
		if err != nil {
			return "", fmt.Errorf("taskqueue: enqueue %s: mark pending: %w", req.Task, err)
		}
		if !ok {
			q.log.Debug("duplicate job suppressed", "task", req.Task, "job_id", id)
			return "", nil
		}
	}

	job := Job{
		ID:         id,
		Task:       req.Task,
		Queue:      req.Queue,
		EnqueuedAt: time.Now().UTC(),
	}
	if req.DeferBy > 0 {
		job.RunAt = job.EnqueuedAt.Add(req.DeferBy)
	}
	if req.Args != nil {
		raw, err := json.Marshal(req.Args)
		if err != nil {
			return "", fmt.Errorf("taskqueue: enqueue %s: marshal args: %w", req.Task, err)
		}
		job.Args = raw
	}

	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	q.metrics.RecordEnqueue(ctx, req.Queue, req.Task)
	q.log.Debug("job enqueued", "task", req.Task, "queue", req.Queue, "job_id", id, "defer_by", req.DeferBy)
	return id, nil
}

// push routes a job to the live list or, when deferred, the due set.
func (q *Queue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal job %s: %w", job.ID, err)
	}
	if !job.RunAt.IsZero() && job.RunAt.After(time.Now()) {
		err = q.rdb.ZAdd(ctx, deferredKey(job.Queue), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: payload,
		}).Err()
	} else {
		err = q.rdb.RPush(ctx, config.QueueKey(job.Queue), payload).Err()
	}
	if err != nil {
		return fmt.Errorf("taskqueue: push %s to %s: %w", job.ID, job.Queue, err)
	}
	return nil
}

// clearPending removes the idempotency marker so the job id can be reused.
func (q *Queue) clearPending(ctx context.Context, jobID string) {
	if err := q.rdb.Del(ctx, pendingKey(jobID)).Err(); err != nil {
		q.log.Warn("failed to clear pending marker", "job_id", jobID, "error", err)
	}
}

// promoteDue moves deferred jobs whose run time has arrived onto the live
// list. Returns the number of jobs promoted.
func (q *Queue) promoteDue(ctx context.Context, queue string) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, deferredKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("taskqueue: promote %s: %w", queue, err)
	}
	promoted := 0
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, deferredKey(queue), m).Result()
		if err != nil {
			return promoted, fmt.Errorf("taskqueue: promote %s: zrem: %w", queue, err)
		}
		if removed == 0 {
			// Another worker claimed it.
			continue
		}
		if err := q.rdb.RPush(ctx, config.QueueKey(queue), m).Err(); err != nil {
			return promoted, fmt.Errorf("taskqueue: promote %s: push: %w", queue, err)
		}
		promoted++
	}
	return promoted, nil
}

// Depth returns the number of live (non-deferred) jobs on queue.
func (q *Queue) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := q.rdb.LLen(ctx, config.QueueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("taskqueue: depth %s: %w", queue, err)
	}
	return n, nil
}

func pendingKey(jobID string) string  { return "arq:pending:" + jobID }
func deferredKey(queue string) string { return "arq:deferred:" + queue }
