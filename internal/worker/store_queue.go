package worker

import (
	"context"

	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/pkg/models"
)

// StoreQueue adapts a store.Store into a Queue by polling for tasks still
// in the queued status, the same role the teacher's scheduler plays
// polling store.GetDueTasks instead of a separate broker. A task becomes
// "enqueued" the moment its status is models.TaskQueued; no separate push
// is required, so Enqueue is a no-op.
//
// This is the in-process reference the platform's job-queue interface
// ships with (job queue is out of scope beyond its interface); a
// production deployment would back Queue with a durable broker instead and
// would need Dequeue to atomically claim a task to avoid the brief
// double-dispatch window this polling approach admits under concurrent
// workers.
type StoreQueue struct {
	tasks store.Store
	limit int
}

// NewStoreQueue builds a StoreQueue that scans up to limit of the oldest
// tasks per poll looking for one still queued.
func NewStoreQueue(tasks store.Store, limit int) *StoreQueue {
	if limit <= 0 {
		limit = 100
	}
	return &StoreQueue{tasks: tasks, limit: limit}
}

func (q *StoreQueue) Enqueue(ctx context.Context, taskID string) error {
	return nil
}

func (q *StoreQueue) Dequeue(ctx context.Context) (string, bool, error) {
	tasks, err := q.tasks.List(ctx, q.limit, 0)
	if err != nil {
		return "", false, err
	}
	for _, t := range tasks {
		if t.Status == models.TaskQueued {
			return t.ID, true, nil
		}
	}
	return "", false, nil
}
