// Package worker implements the Worker Loop (C8): it pulls task IDs off a
// queue and dispatches each to a fresh Orchestrator run, bounding how many
// tasks execute concurrently and retrying the ones that fail for
// infrastructure reasons (a sandbox that never came up, a planner call that
// errored) rather than for a legitimate in-task step failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskforge/engine/internal/backoff"
	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/pkg/models"
)

// Queue is the Worker Loop's narrow dependency on an external job queue.
// The platform treats the queue as an interface only (a real deployment
// backs it with a durable broker); MemoryQueue below is the in-process
// reference implementation, the same role store.MemoryStore plays for
// store.Store.
type Queue interface {
	// Enqueue submits a task ID for future dispatch.
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue returns the next ready task ID. ok is false if the queue was
	// empty when checked; it does not block past ctx's deadline.
	Dequeue(ctx context.Context) (taskID string, ok bool, err error)
}

// MemoryQueue is a buffered-channel Queue for local development, tests, and
// single-process deployments.
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue builds a MemoryQueue with room for buffer pending task IDs.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 100
	}
	return &MemoryQueue{ch: make(chan string, buffer)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case q.ch <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, bool, error) {
	select {
	case id := <-q.ch:
		return id, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	default:
		return "", false, nil
	}
}

// Orchestrator is the subset of orchestrator.Orchestrator the Worker Loop
// depends on.
type Orchestrator interface {
	Run(ctx context.Context, task *models.Task) error
}

// Config bounds the Worker Loop's scheduling behavior.
type Config struct {
	MaxConcurrency int
	PollInterval   time.Duration
	MaxRetries     int
	RetryPolicy    backoff.BackoffPolicy
}

// Worker pulls task IDs from a Queue and dispatches each to Orchestrator,
// running up to Config.MaxConcurrency tasks at once.
type Worker struct {
	queue        Queue
	tasks        store.Store
	orchestrator Orchestrator
	config       Config
	logger       *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Worker. Zero-value Config fields take the teacher's
// defaults: concurrency 5, a 1s poll interval, 3 retries on the default
// backoff policy.
func New(queue Queue, tasks store.Store, o Orchestrator, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryPolicy == (backoff.BackoffPolicy{}) {
		cfg.RetryPolicy = backoff.DefaultPolicy()
	}
	return &Worker{
		queue:        queue,
		tasks:        tasks,
		orchestrator: o,
		config:       cfg,
		logger:       logger.With("component", "worker"),
		sem:          make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Run polls the queue until ctx is cancelled, dispatching each dequeued task
// ID to a bounded pool of concurrent goroutines. It blocks until every
// in-flight dispatch has finished draining.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker loop starting", "max_concurrency", w.config.MaxConcurrency, "poll_interval", w.config.PollInterval)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker loop stopping, draining in-flight tasks")
			w.wg.Wait()
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick claims as many queued task IDs as there is spare concurrency for and
// dispatches each in its own goroutine.
func (w *Worker) tick(ctx context.Context) {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return // at capacity this cycle
		}

		taskID, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			<-w.sem
			if ctx.Err() == nil {
				w.logger.Error("dequeue failed", "error", err)
			}
			return
		}
		if !ok {
			<-w.sem
			return // queue empty
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.dispatch(ctx, taskID)
		}()
	}
}

// dispatch loads taskID and runs it to a terminal status, retrying
// infrastructure-level failures (no plan ever got generated) up to
// Config.MaxRetries times with exponential backoff. A task already
// cancelled, or cancelled between attempts, short-circuits further retries.
func (w *Worker) dispatch(ctx context.Context, taskID string) {
	log := w.logger.With("task_id", taskID)

	var lastErr error
	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		task, err := w.tasks.Get(ctx, taskID)
		if err != nil {
			log.Error("failed to load task", "error", err)
			return
		}
		if task.Status == models.TaskCancelled {
			log.Info("task cancelled, abandoning dispatch", "attempt", attempt)
			return
		}

		log.Info("dispatching task", "attempt", attempt)
		runErr := w.orchestrator.Run(ctx, task)
		if runErr != nil {
			lastErr = runErr
		}

		w.finalizeStatus(task)
		if err := w.tasks.Update(ctx, task); err != nil {
			log.Warn("failed to persist terminal status", "error", err)
		}

		if task.Plan != nil && len(task.Plan) > 0 {
			// The plan was generated and at least attempted: whatever the
			// outcome, it is this task's terminal business result, not an
			// infrastructure fault worth retrying.
			return
		}
		if runErr == nil && task.Status != models.TaskFailed {
			return
		}

		log.Warn("infrastructure failure before planning completed, retrying", "attempt", attempt, "error", errString(runErr))
		if attempt == w.config.MaxRetries {
			break
		}
		delay := backoff.ComputeBackoff(w.config.RetryPolicy, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	log.Error("task exhausted retries", "max_retries", w.config.MaxRetries, "error", errString(lastErr))
}

// finalizeStatus converts the Orchestrator's event-log-only outcome into
// the task's terminal status field, for the cases (sandbox create failure,
// planning failure) where the Orchestrator hasn't already set one.
func (w *Worker) finalizeStatus(task *models.Task) {
	if task.Status.IsTerminal() {
		return
	}
	now := time.Now()
	task.CompletedAt = &now

	for _, s := range task.Plan {
		if s.Status != models.StepCompleted {
			task.Status = models.TaskFailed
			return
		}
	}
	task.Status = models.TaskSucceeded
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
