package dailylife

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
)

// RegisterHandlers binds the brain's tasks to w.
func (b *Brain) RegisterHandlers(w *taskqueue.Worker) {
	w.Register(TaskProcessDailyLife, func(ctx context.Context, job taskqueue.Job) error {
		var args SnapshotArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("dailylife: %s: decode args: %w", job.Task, err)
		}
		return b.ProcessSnapshot(ctx, args.Snapshot)
	})
	w.Register(TaskTriggerImmediate, func(ctx context.Context, job taskqueue.Job) error {
		var args TriggerArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("dailylife: %s: decode args: %w", job.Task, err)
		}
		return b.HandleTrigger(ctx, args)
	})
}

// RegisterHandlers binds the reverie task to w.
func (r *Reverie) RegisterHandlers(w *taskqueue.Worker) {
	w.Register(TaskReverieCycle, func(ctx context.Context, job taskqueue.Job) error {
		var args ReverieArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return fmt.Errorf("dailylife: %s: decode args: %w", job.Task, err)
		}
		return r.Run(ctx, args)
	})
}
