package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskforge/engine/internal/critic"
	"github.com/taskforge/engine/internal/planner"
	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/pkg/models"
)

type fakeBackend struct{}

func (fakeBackend) Start(ctx context.Context, id string, cfg sandbox.Config) (string, map[string]int, error) {
	return id, map[string]int{}, nil
}
func (fakeBackend) Stop(ctx context.Context, backingID string) error { return nil }

func newManager(t *testing.T) *sandbox.Manager {
	t.Helper()
	return sandbox.New(fakeBackend{}, sandbox.Config{HealthRetries: 1, HealthInterval: time.Millisecond}, nil)
}

type fakeCatalog struct{ tools map[string]bool }

func (c *fakeCatalog) Describe() []models.ToolDescription { return nil }
func (c *fakeCatalog) Has(name string) bool                { return c.tools[name] }

type fakePlanner struct {
	steps []*models.Step
	err   error
}

func (p *fakePlanner) Plan(ctx context.Context, goal string, taskCtx map[string]any, catalog planner.ToolCatalog) ([]*models.Step, error) {
	return p.steps, p.err
}

type fakeExecutor struct {
	succeed bool
}

func (e *fakeExecutor) ExecuteStep(ctx context.Context, step *models.Step, ec models.ExecContext) *models.Step {
	if e.succeed {
		step.Status = models.StepCompleted
		step.Result = &models.StepResult{Success: true, Output: "ok"}
	} else {
		step.Status = models.StepFailed
		step.Result = &models.StepResult{Success: false, Error: "boom"}
	}
	return step
}

type fakeCritic struct {
	verdict *critic.Verdict
	apply   bool
}

func (c *fakeCritic) Evaluate(ctx context.Context, goal string, plan []*models.Step, history []*models.Step, justExecuted *models.Step, catalog critic.Catalog) *critic.Verdict {
	return c.verdict
}
func (c *fakeCritic) ShouldApplyCorrections(v *critic.Verdict) bool { return c.apply }

func testStep(id, tool string) *models.Step {
	return &models.Step{ID: id, Tool: tool, Arguments: json.RawMessage(`{}`), Required: true, Status: models.StepPending}
}

func TestRunSucceedsAllStepsCompleted(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := &models.Task{ID: "task-1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}
	if err := tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	o := New(newManager(t), &fakePlanner{steps: []*models.Step{testStep("s1", "shell")}},
		&fakeExecutor{succeed: true}, nil, &fakeCatalog{tools: map[string]bool{"shell": true}}, tasks, Config{}, nil)

	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := tasks.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hasEvent(got.Events, models.EventTaskSucceeded) {
		t.Error("expected task_succeeded event")
	}
	if !hasEvent(got.Events, models.EventSandboxDestroyed) {
		t.Error("expected sandbox_destroyed event")
	}
}

func TestRunStopsOnRequiredStepFailure(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := &models.Task{ID: "task-1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}
	tasks.Create(context.Background(), task)

	o := New(newManager(t), &fakePlanner{steps: []*models.Step{testStep("s1", "shell"), testStep("s2", "shell")}},
		&fakeExecutor{succeed: false}, nil, &fakeCatalog{tools: map[string]bool{"shell": true}}, tasks, Config{}, nil)

	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := tasks.Get(context.Background(), "task-1")
	if !hasEvent(got.Events, models.EventExecutionStopped) {
		t.Error("expected execution_stopped event")
	}
	if !hasEvent(got.Events, models.EventTaskCompletedWithFails) {
		t.Error("expected task_completed_with_failures event")
	}
	if got.Plan[1].Status != models.StepPending {
		t.Error("expected second step to remain unexecuted after the break")
	}
}

func TestRunSandboxCreateFailureMarksTaskFailed(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := &models.Task{ID: "task-1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}
	tasks.Create(context.Background(), task)

	failingManager := sandbox.New(failingBackend{}, sandbox.Config{HealthRetries: 1, HealthInterval: time.Millisecond}, nil)
	o := New(failingManager, &fakePlanner{}, &fakeExecutor{}, nil, &fakeCatalog{}, tasks, Config{}, nil)

	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("run should not raise on a sandbox create failure: %v", err)
	}
	if task.Status != models.TaskFailed {
		t.Errorf("expected task status failed, got %s", task.Status)
	}
	if !hasEvent(task.Events, models.EventOrchestrationFailed) {
		t.Error("expected orchestration_failed event")
	}
}

type failingBackend struct{}

func (failingBackend) Start(ctx context.Context, id string, cfg sandbox.Config) (string, map[string]int, error) {
	return "", nil, context.DeadlineExceeded
}
func (failingBackend) Stop(ctx context.Context, backingID string) error { return nil }

func TestRunAppliesCriticCorrections(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := &models.Task{ID: "task-1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}
	tasks.Create(context.Background(), task)

	corrective := testStep("correction-1", "shell")
	fc := &fakeCritic{verdict: &critic.Verdict{OnTrack: false, Confidence: 0.9, CorrectiveSteps: []*models.Step{corrective}}, apply: true}

	o := New(newManager(t), &fakePlanner{steps: []*models.Step{testStep("s1", "shell")}},
		&fakeExecutor{succeed: true}, fc, &fakeCatalog{tools: map[string]bool{"shell": true}}, tasks, Config{CriticEnabled: true}, nil)

	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(task.Plan) != 2 {
		t.Fatalf("expected corrective step spliced in, plan has %d steps", len(task.Plan))
	}
	if task.Plan[1].ID != "correction-1" {
		t.Errorf("expected corrective step spliced immediately after s1, got %s", task.Plan[1].ID)
	}
	if !hasEvent(task.Events, models.EventCorrectionApplied) {
		t.Error("expected correction_applied event")
	}
}

// cancellingExecutor completes every step normally, but after the step
// named cancelAfter, writes models.TaskCancelled straight to the store —
// standing in for a concurrent "task cancel" CLI invocation.
type cancellingExecutor struct {
	tasks       store.Store
	taskID      string
	cancelAfter string
}

func (e *cancellingExecutor) ExecuteStep(ctx context.Context, step *models.Step, ec models.ExecContext) *models.Step {
	step.Status = models.StepCompleted
	step.Result = &models.StepResult{Success: true, Output: "ok"}
	if step.ID == e.cancelAfter {
		task, err := e.tasks.Get(context.Background(), e.taskID)
		if err == nil {
			task.Status = models.TaskCancelled
			e.tasks.Update(context.Background(), task)
		}
		// Give the Orchestrator's cancellation-watching goroutine (polling
		// every CancellationPollInterval, set to 1ms in the test below) a
		// chance to observe the write before the next step would dispatch.
		time.Sleep(20 * time.Millisecond)
	}
	return step
}

func TestRunHonorsMidExecutionCancellation(t *testing.T) {
	tasks := store.NewMemoryStore()
	task := &models.Task{ID: "task-1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}
	tasks.Create(context.Background(), task)

	exec := &cancellingExecutor{tasks: tasks, taskID: "task-1", cancelAfter: "s1"}
	o := New(newManager(t), &fakePlanner{steps: []*models.Step{testStep("s1", "shell"), testStep("s2", "shell")}},
		exec, nil, &fakeCatalog{tools: map[string]bool{"shell": true}}, tasks,
		Config{CancellationPollInterval: time.Millisecond}, nil)

	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("run: %v", err)
	}

	if task.Status != models.TaskCancelled {
		t.Errorf("expected task status cancelled, got %s", task.Status)
	}
	if !hasEvent(task.Events, models.EventTaskCancelled) {
		t.Error("expected task_cancelled event")
	}
	if !hasEvent(task.Events, models.EventSandboxDestroyed) {
		t.Error("expected sandbox_destroyed event even when cancelled")
	}
	if task.Plan[1].Status != models.StepPending {
		t.Error("expected second step to remain unexecuted after cancellation")
	}
}

func hasEvent(events []*models.Event, typ models.EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}
