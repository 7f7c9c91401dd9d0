package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
)

// HandlerFunc processes one job. Returning an error triggers the queue's
// bounded retry policy.
type HandlerFunc func(ctx context.Context, job Job) error

const (
	defaultConcurrency = 4
	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
	maxBackoff         = 5 * time.Minute

	// defaultPopTimeout bounds each blocking pop so the loop can promote
	// deferred jobs and observe cancellation.
	defaultPopTimeout = time.Second
)

// Worker drains one named queue, dispatching jobs to registered handlers with
// a concurrency cap and exponential-backoff retries.
type Worker struct {
	q           *Queue
	queue       string
	concurrency int
	maxAttempts int
	backoffBase time.Duration
	popTimeout  time.Duration
	log         *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// WorkerOption configures a [Worker].
type WorkerOption func(*Worker)

// WithConcurrency caps concurrent job executions. Default 4.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMaxAttempts bounds executions per job including the first. Default 5.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the first retry delay; each further retry doubles it.
// Default 1s.
func WithBackoffBase(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.backoffBase = d
		}
	}
}

// WithPopTimeout sets the blocking-pop timeout, which also bounds how quickly
// deferred jobs are promoted. Default 1s.
func WithPopTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.popTimeout = d
		}
	}
}

// NewWorker creates a worker for one named queue.
func NewWorker(q *Queue, queue string, opts ...WorkerOption) *Worker {
	w := &Worker{
		q:           q,
		queue:       queue,
		concurrency: defaultConcurrency,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		popTimeout:  defaultPopTimeout,
		log:         q.log.With("queue", queue),
		handlers:    make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register binds a handler to a task name. Subsequent calls with the same
// name overwrite the previous handler.
func (w *Worker) Register(task string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[task] = h
}

// Run drains the queue until ctx is cancelled, then waits for in-flight jobs
// to finish before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "concurrency", w.concurrency)

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.log.Info("worker drained")
			return nil
		default:
		}

		if _, err := w.q.promoteDue(ctx, w.queue); err != nil && ctx.Err() == nil {
			w.log.Warn("deferred promotion failed", "error", err)
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			w.log.Info("worker drained")
			return nil
		}

		res, err := w.q.rdb.BLPop(ctx, w.popTimeout, config.QueueKey(w.queue)).Result()
		if err != nil {
			<-sem
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Warn("queue pop failed", "error", err)
			// Avoid a hot loop against a broken broker.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if len(res) < 2 {
			<-sem
			continue
		}

		payload := res[1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.dispatch(ctx, []byte(payload))
		}()
	}
}

// dispatch decodes and executes one job, applying the retry policy.
func (w *Worker) dispatch(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Error("discarding undecodable job", "error", err)
		return
	}

	w.mu.RLock()
	handler, ok := w.handlers[job.Task]
	w.mu.RUnlock()
	if !ok {
		w.log.Error("discarding job with no handler", "task", job.Task, "job_id", job.ID)
		w.q.clearPending(ctx, job.ID)
		w.q.metrics.RecordJob(ctx, w.queue, job.Task, "no_handler", 0)
		return
	}

	w.q.metrics.ActiveWorkers.Add(ctx, 1)
	start := time.Now()
	err := handler(ctx, job)
	elapsed := time.Since(start)
	w.q.metrics.ActiveWorkers.Add(ctx, -1)

	if err == nil {
		w.q.clearPending(ctx, job.ID)
		w.q.metrics.RecordJob(ctx, w.queue, job.Task, "ok", elapsed.Seconds())
		w.log.Debug("job completed", "task", job.Task, "job_id", job.ID, "duration", elapsed)
		return
	}

	job.Attempt++
	if job.Attempt >= w.maxAttempts {
		w.q.clearPending(ctx, job.ID)
		w.q.metrics.RecordJob(ctx, w.queue, job.Task, "dropped", elapsed.Seconds())
		w.log.Error("job dropped after max attempts",
			"task", job.Task, "job_id", job.ID, "attempts", job.Attempt, "error", err)
		return
	}

	delay := w.backoff(job.Attempt)
	job.RunAt = time.Now().UTC().Add(delay)
	// The pending marker stays in place across retries so duplicate enqueues
	// remain suppressed until the job finally settles.
	if pushErr := w.q.push(ctx, job); pushErr != nil {
		w.q.clearPending(ctx, job.ID)
		w.q.metrics.RecordJob(ctx, w.queue, job.Task, "lost", elapsed.Seconds())
		w.log.Error("job lost: retry re-enqueue failed",
			"task", job.Task, "job_id", job.ID, "error", pushErr)
		return
	}
	w.q.metrics.RecordJob(ctx, w.queue, job.Task, "retry", elapsed.Seconds())
	w.log.Warn("job failed, retrying",
		"task", job.Task, "job_id", job.ID, "attempt", job.Attempt, "retry_in", delay, "error", err)
}

// backoff returns the delay before the given retry attempt (1-based).
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.backoffBase << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
