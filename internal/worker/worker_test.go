package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskforge/engine/internal/backoff"
	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/pkg/models"
)

func newTask(id string) *models.Task {
	return &models.Task{ID: id, Goal: "test", Status: models.TaskQueued, CreatedAt: time.Now()}
}

type countingOrchestrator struct {
	mu      sync.Mutex
	calls   int
	fn      func(attempt int, task *models.Task) error
}

func (o *countingOrchestrator) Run(ctx context.Context, task *models.Task) error {
	o.mu.Lock()
	o.calls++
	attempt := o.calls
	o.mu.Unlock()
	return o.fn(attempt, task)
}

func fastPolicy() backoff.BackoffPolicy {
	return backoff.BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
}

func TestDispatchSucceedsOnFirstAttempt(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	tasks.Create(context.Background(), task)

	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		task.Plan = []*models.Step{{ID: "s1", Status: models.StepCompleted}}
		return nil
	}}

	w := New(NewMemoryQueue(1), tasks, o, Config{MaxRetries: 3, RetryPolicy: fastPolicy()}, nil)
	w.dispatch(context.Background(), "t1")

	if o.calls != 1 {
		t.Fatalf("expected exactly 1 orchestrator call, got %d", o.calls)
	}
	got, _ := tasks.Get(context.Background(), "t1")
	if got.Status != models.TaskSucceeded {
		t.Errorf("expected succeeded, got %s", got.Status)
	}
}

func TestDispatchRetriesInfrastructureFailure(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	tasks.Create(context.Background(), task)

	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		if attempt < 3 {
			return errors.New("transient planning error")
		}
		task.Plan = []*models.Step{{ID: "s1", Status: models.StepCompleted}}
		return nil
	}}

	w := New(NewMemoryQueue(1), tasks, o, Config{MaxRetries: 5, RetryPolicy: fastPolicy()}, nil)
	w.dispatch(context.Background(), "t1")

	if o.calls != 3 {
		t.Fatalf("expected 3 orchestrator calls before success, got %d", o.calls)
	}
	got, _ := tasks.Get(context.Background(), "t1")
	if got.Status != models.TaskSucceeded {
		t.Errorf("expected succeeded, got %s", got.Status)
	}
}

func TestDispatchDoesNotRetryStepFailureAfterPlanRan(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	tasks.Create(context.Background(), task)

	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		task.Plan = []*models.Step{{ID: "s1", Status: models.StepFailed, Required: true}}
		return nil
	}}

	w := New(NewMemoryQueue(1), tasks, o, Config{MaxRetries: 3, RetryPolicy: fastPolicy()}, nil)
	w.dispatch(context.Background(), "t1")

	if o.calls != 1 {
		t.Fatalf("expected exactly 1 call — a ran plan with a failed step is terminal, not retryable, got %d calls", o.calls)
	}
	got, _ := tasks.Get(context.Background(), "t1")
	if got.Status != models.TaskFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestDispatchShortCircuitsOnCancelledTask(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	task.Status = models.TaskCancelled
	tasks.Create(context.Background(), task)

	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		return errors.New("should never be called")
	}}

	w := New(NewMemoryQueue(1), tasks, o, Config{MaxRetries: 3, RetryPolicy: fastPolicy()}, nil)
	w.dispatch(context.Background(), "t1")

	if o.calls != 0 {
		t.Fatalf("expected 0 orchestrator calls for an already-cancelled task, got %d", o.calls)
	}
}

func TestDispatchExhaustsRetriesAndGivesUp(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	tasks.Create(context.Background(), task)

	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		return errors.New("permanent planning error")
	}}

	w := New(NewMemoryQueue(1), tasks, o, Config{MaxRetries: 3, RetryPolicy: fastPolicy()}, nil)
	w.dispatch(context.Background(), "t1")

	if o.calls != 3 {
		t.Fatalf("expected exactly MaxRetries=3 calls, got %d", o.calls)
	}
}

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "t1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, ok, err := q.Dequeue(ctx)
	if err != nil || !ok || id != "t1" {
		t.Fatalf("expected (t1, true, nil), got (%q, %v, %v)", id, ok, err)
	}
	_, ok, err = q.Dequeue(ctx)
	if err != nil || ok {
		t.Fatalf("expected empty dequeue to report ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestWorkerRunDrainsOnCancel(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := newTask("t1")
	tasks.Create(context.Background(), task)
	q := NewMemoryQueue(1)
	q.Enqueue(context.Background(), "t1")

	started := make(chan struct{})
	o := &countingOrchestrator{fn: func(attempt int, task *models.Task) error {
		close(started)
		task.Plan = []*models.Step{{ID: "s1", Status: models.StepCompleted}}
		return nil
	}}

	w := New(q, tasks, o, Config{MaxConcurrency: 1, PollInterval: time.Millisecond, MaxRetries: 1, RetryPolicy: fastPolicy()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never dispatched")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not drain and stop after cancel")
	}
}
