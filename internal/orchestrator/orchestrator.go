// Package orchestrator implements the Orchestrator (C7): the per-task state
// machine that drives a task from queued through planning and sequential
// step execution to a terminal status, appending every transition to the
// task's event log as it goes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/taskforge/engine/internal/artifacts"
	"github.com/taskforge/engine/internal/critic"
	"github.com/taskforge/engine/internal/observability"
	"github.com/taskforge/engine/internal/planner"
	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/pkg/models"
)

// maxOutputInEventLog bounds step_completed's embedded output, keeping the
// event log compact; the full result still lives on the step itself.
const maxOutputInEventLog = 500

// DefaultMaxCorrectionDepth bounds how many times a Critic-spliced step can
// itself be corrected, preventing an unbounded correction chain.
const DefaultMaxCorrectionDepth = 3

// DefaultCancellationPollInterval bounds how long a per-task cancellation
// request (the CLI's task cancel, written straight to the store from
// another process) takes to reach a running Run.
const DefaultCancellationPollInterval = 500 * time.Millisecond

// Executor is the subset of executor.Executor the Orchestrator depends on.
type Executor interface {
	ExecuteStep(ctx context.Context, step *models.Step, ec models.ExecContext) *models.Step
}

// Planner is the subset of planner.Planner the Orchestrator depends on.
type Planner interface {
	Plan(ctx context.Context, goal string, taskCtx map[string]any, catalog planner.ToolCatalog) ([]*models.Step, error)
}

// Critic is the subset of critic.Critic the Orchestrator depends on.
type Critic interface {
	Evaluate(ctx context.Context, goal string, plan []*models.Step, history []*models.Step, justExecuted *models.Step, catalog critic.Catalog) *critic.Verdict
	ShouldApplyCorrections(v *critic.Verdict) bool
}

// Config bounds an Orchestrator's behavior.
type Config struct {
	CriticEnabled      bool
	MaxCorrectionDepth int
	StepTimeout        time.Duration

	// ArtifactStore persists step-produced artifact content independent of
	// the task's own record. Nil means artifact content stays inline on the
	// Task only.
	ArtifactStore artifacts.Store

	// Redaction screens artifacts against ArtifactStore's persistence and
	// the task record before they're kept. Nil never redacts.
	Redaction *artifacts.RedactionPolicy

	// Metrics records task/step/sandbox counters. Nil disables recording.
	Metrics *observability.Metrics

	// Tracer opens one span per orchestration stage. Nil disables tracing.
	Tracer *observability.Tracer

	// CancellationPollInterval overrides DefaultCancellationPollInterval.
	CancellationPollInterval time.Duration
}

// Orchestrator drives one task at a time through its full lifecycle. It
// holds no per-task state between calls to Run — every invocation is
// self-contained, reading and writing through store.Store.
type Orchestrator struct {
	sandboxes *sandbox.Manager
	planner   Planner
	executor  Executor
	critic    Critic
	catalog   planner.ToolCatalog
	tasks     store.Store
	config    Config
	logger    *slog.Logger
}

// New builds an Orchestrator. catalog must satisfy both planner.ToolCatalog
// and critic.Catalog — *registry.Registry does.
func New(sandboxes *sandbox.Manager, p Planner, e Executor, c Critic, catalog planner.ToolCatalog, tasks store.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCorrectionDepth <= 0 {
		cfg.MaxCorrectionDepth = DefaultMaxCorrectionDepth
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.CancellationPollInterval <= 0 {
		cfg.CancellationPollInterval = DefaultCancellationPollInterval
	}
	return &Orchestrator{
		sandboxes: sandboxes,
		planner:   p,
		executor:  e,
		critic:    c,
		catalog:   catalog,
		tasks:     tasks,
		config:    cfg,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Run drives task through its full lifecycle: sandbox acquisition,
// planning, sequential step execution (with Critic-driven correction
// splicing), and finalization. The sandbox is destroyed in every
// terminating path, success, failure, or cancellation.
//
// ctx governs the call as a whole (process shutdown); a task can also be
// cancelled independently of ctx, by another process writing
// models.TaskCancelled to the store (the CLI's task cancel command) while
// this Run call is still in flight — Run polls the store for that and
// derives a second, per-task cancellation from it.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task) error {
	log := o.logger.With("task_id", task.ID)
	start := time.Now()

	runCtx, stopWatching := o.watchForCancellation(ctx, task.ID)
	defer stopWatching()

	task.Status = models.TaskRunning
	now := time.Now()
	task.StartedAt = &now
	o.appendEvent(ctx, task, models.EventTaskStarted, nil)
	o.persist(ctx, task)

	sandboxCtx, endSandboxSpan := o.startSpan(runCtx, "orchestrator.acquire_sandbox", attribute.String("task_id", task.ID))
	sb, err := o.sandboxes.Create(sandboxCtx, task.ID)
	endSandboxSpan()
	if err != nil {
		if isCancellation(runCtx, ctx) {
			o.recordSandboxEvent("create_failed")
			o.finalizeCancelled(ctx, task, start)
			return nil
		}
		o.recordSandboxEvent("create_failed")
		o.appendEvent(ctx, task, models.EventOrchestrationFailed, map[string]any{"error": err.Error(), "stage": "sandbox_create"})
		task.Status = models.TaskFailed
		task.Error = err.Error()
		o.persist(ctx, task)
		o.recordTask(string(task.Status), time.Since(start))
		return nil
	}
	// From here on a sandbox exists and must be destroyed on every path out,
	// success, failure, cancellation, or a panic unwinding through this defer.
	defer o.destroySandbox(ctx, task)

	o.recordSandboxEvent("created")
	o.appendEvent(ctx, task, models.EventSandboxCreated, map[string]any{"ports": sb.Ports})
	o.persist(ctx, task)

	planCtx, endPlanSpan := o.startSpan(runCtx, "orchestrator.plan", attribute.String("task_id", task.ID))
	o.appendEvent(ctx, task, models.EventPlanningStarted, nil)
	plan, err := o.planner.Plan(planCtx, task.Goal, task.Context, o.catalog)
	endPlanSpan()
	if err != nil {
		if isCancellation(runCtx, ctx) {
			o.finalizeCancelled(ctx, task, start)
			return nil
		}
		log.Error("planning failed", "error", err)
		o.appendEvent(ctx, task, models.EventOrchestrationFailed, map[string]any{"error": err.Error(), "stage": "planning"})
		task.Status = models.TaskFailed
		task.Error = err.Error()
		o.persist(ctx, task)
		o.recordTask(string(task.Status), time.Since(start))
		return fmt.Errorf("orchestrator: planning: %w", err)
	}
	task.Plan = plan
	o.appendEvent(ctx, task, models.EventPlanGenerated, map[string]any{"steps": planSummary(plan)})
	o.persist(ctx, task)

	o.appendEvent(ctx, task, models.EventExecutionStarted, nil)
	o.persist(ctx, task)

	cancelled := o.executeLoop(runCtx, ctx, task, log)

	switch {
	case cancelled || isCancellation(runCtx, ctx):
		o.finalizeCancelled(ctx, task, start)
	case allStepsCompleted(task.Plan):
		o.appendEvent(ctx, task, models.EventTaskSucceeded, nil)
	default:
		o.appendEvent(ctx, task, models.EventTaskCompletedWithFails, nil)
	}
	o.persist(ctx, task)
	return nil
}

// finalizeCancelled marks task TaskCancelled. Setting the status here (not
// leaving it to the Worker Loop's post-Run finalizer) matters: the Worker
// Loop only ever infers Succeeded or Failed from step completion, and would
// otherwise report a cancelled task as failed.
func (o *Orchestrator) finalizeCancelled(ctx context.Context, task *models.Task, start time.Time) {
	task.Status = models.TaskCancelled
	now := time.Now()
	task.CompletedAt = &now
	o.appendEvent(ctx, task, models.EventTaskCancelled, nil)
	o.recordTask(string(task.Status), time.Since(start))
}

// watchForCancellation returns a context derived from ctx that is also
// cancelled the moment task's store record is observed with
// models.TaskCancelled, and a stop func that must be called once Run is
// done with the task (success, failure, or cancellation) to release the
// polling goroutine.
func (o *Orchestrator) watchForCancellation(ctx context.Context, taskID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(o.config.CancellationPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				pollCtx, pollCancel := context.WithTimeout(context.Background(), o.config.CancellationPollInterval)
				t, err := o.tasks.Get(pollCtx, taskID)
				pollCancel()
				if err == nil && t.Status == models.TaskCancelled {
					cancel()
					return
				}
			}
		}
	}()

	return runCtx, func() {
		close(done)
		cancel()
	}
}

// isCancellation reports whether runCtx was cancelled by watchForCancellation
// specifically — as opposed to the caller's own ctx being cancelled, e.g. by
// process shutdown, which the worker loop handles on its own terms.
func isCancellation(runCtx, callerCtx context.Context) bool {
	return runCtx.Err() != nil && callerCtx.Err() == nil
}

// executeLoop is step 4 of the Orchestrator contract: sequential dispatch,
// per-step event logging, and Critic-driven correction splicing. workCtx
// governs tool dispatch and Critic calls and may be cancelled mid-loop;
// persistCtx governs event/store writes and is never the cancelled one, so
// the loop's own bookkeeping still lands even after a cancellation is
// observed. The returned bool reports whether the loop stopped because
// workCtx was cancelled, as opposed to running to completion or stopping on
// a failed required step.
func (o *Orchestrator) executeLoop(workCtx, persistCtx context.Context, task *models.Task, log *slog.Logger) bool {
	ec := models.ExecContext{
		TaskID:         task.ID,
		SandboxID:      task.ID,
		DefaultTimeout: int64(o.config.StepTimeout / time.Second),
		DefaultCwd:     "/work",
	}

	for i := 0; i < len(task.Plan); i++ {
		if workCtx.Err() != nil {
			log.Warn("execution cancelled before step dispatch", "task_id", task.ID)
			return true
		}

		step := task.Plan[i]
		ec.StepID = step.ID

		o.appendEvent(persistCtx, task, models.EventStepStarted, map[string]any{"step_id": step.ID, "tool": step.Tool})

		stepCtx, endStepSpan := o.startSpan(workCtx, "orchestrator.step", attribute.String("step_id", step.ID), attribute.String("tool", step.Tool))
		o.executor.ExecuteStep(stepCtx, step, ec)
		endStepSpan()

		o.recordStep(step.Tool, string(step.Status))
		o.collectArtifacts(persistCtx, task, step)
		o.persist(persistCtx, task)

		o.appendEvent(persistCtx, task, models.EventStepCompleted, map[string]any{
			"step_id": step.ID,
			"status":  step.Status,
			"output":  truncate(outputOf(step), maxOutputInEventLog),
		})

		if workCtx.Err() != nil {
			log.Warn("execution cancelled after step dispatch", "task_id", task.ID)
			return true
		}

		if o.config.CriticEnabled && o.critic != nil {
			criticCtx, endCriticSpan := o.startSpan(workCtx, "orchestrator.critic", attribute.String("step_id", step.ID))
			history := task.Plan[:i+1]
			verdict := o.critic.Evaluate(criticCtx, task.Goal, task.Plan, history, step, o.catalog)
			endCriticSpan()

			o.appendEvent(persistCtx, task, models.EventCriticEvaluation, map[string]any{
				"step_id":    step.ID,
				"on_track":   verdict.OnTrack,
				"confidence": verdict.Confidence,
				"issues":     verdict.Issues,
			})

			if o.critic.ShouldApplyCorrections(verdict) && step.CorrectionDepth < o.config.MaxCorrectionDepth {
				for _, corrective := range verdict.CorrectiveSteps {
					corrective.CorrectionDepth = step.CorrectionDepth + 1
				}
				task.Plan = spliceSteps(task.Plan, i, verdict.CorrectiveSteps)
				o.persist(persistCtx, task)
				o.recordCorrection()
				o.appendEvent(persistCtx, task, models.EventCorrectionApplied, map[string]any{
					"after_step_id": step.ID,
					"inserted":      len(verdict.CorrectiveSteps),
				})
			}
		}

		if step.Status == models.StepFailed && step.Required {
			log.Warn("required step failed, stopping execution", "step_id", step.ID)
			o.appendEvent(persistCtx, task, models.EventExecutionStopped, map[string]any{"step_id": step.ID})
			break
		}
	}
	return false
}

// collectArtifacts moves a completed step's produced artifacts onto the
// task record, redacting and persisting their content through
// Config.ArtifactStore along the way. A nil ArtifactStore leaves content
// inline; a nil Redaction policy never redacts.
func (o *Orchestrator) collectArtifacts(ctx context.Context, task *models.Task, step *models.Step) {
	if step.Result == nil {
		return
	}
	for _, a := range step.Result.Artifacts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if o.config.Redaction != nil && o.config.Redaction.Apply(a) {
			task.Artifacts = append(task.Artifacts, a)
			continue
		}
		if o.config.ArtifactStore != nil && a.Content != "" {
			ref, err := o.config.ArtifactStore.Put(ctx, a.ID, strings.NewReader(a.Content), artifacts.PutOptions{
				MimeType: mimeTypeOf(a),
				Metadata: map[string]string{"type": string(a.Type)},
			})
			if err != nil {
				o.logger.Warn("artifact store put failed", "task_id", task.ID, "artifact_id", a.ID, "error", err)
			} else {
				a.Path = ref
				a.Content = ""
			}
		}
		task.Artifacts = append(task.Artifacts, a)
	}
}

func mimeTypeOf(a *models.Artifact) string {
	if mt, ok := a.Metadata["mime_type"].(string); ok && mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (o *Orchestrator) destroySandbox(ctx context.Context, task *models.Task) {
	destroyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.sandboxes.Destroy(destroyCtx, task.ID); err != nil {
		o.logger.Warn("sandbox destroy failed", "task_id", task.ID, "error", err)
	}
	o.recordSandboxEvent("destroyed")
	o.appendEvent(ctx, task, models.EventSandboxDestroyed, nil)
	o.persist(ctx, task)
}

func (o *Orchestrator) appendEvent(ctx context.Context, task *models.Task, typ models.EventType, data map[string]any) {
	event := models.NewEvent(typ, data)
	task.Events = append(task.Events, event)
	if err := o.tasks.AppendEvent(ctx, task.ID, event); err != nil {
		o.logger.Warn("append event failed", "task_id", task.ID, "event", typ, "error", err)
	}
}

func (o *Orchestrator) persist(ctx context.Context, task *models.Task) {
	if err := o.tasks.Update(ctx, task); err != nil {
		o.logger.Warn("persist task failed", "task_id", task.ID, "error", err)
	}
}

// startSpan opens a span under name when a Tracer is configured; otherwise
// it's a no-op that returns ctx unchanged. The returned func ends the span
// and must always be called.
func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if o.config.Tracer == nil {
		return ctx, func() {}
	}
	spanCtx, span := o.config.Tracer.Start(ctx, name, observability.SpanOptions{Attributes: attrs})
	return spanCtx, func() { span.End() }
}

func (o *Orchestrator) recordSandboxEvent(event string) {
	if o.config.Metrics != nil {
		o.config.Metrics.RecordSandboxEvent(event)
	}
}

func (o *Orchestrator) recordStep(tool, status string) {
	if o.config.Metrics != nil {
		o.config.Metrics.RecordStep(tool, status)
	}
}

func (o *Orchestrator) recordTask(status string, d time.Duration) {
	if o.config.Metrics != nil {
		o.config.Metrics.RecordTask(status, d.Seconds())
	}
}

func (o *Orchestrator) recordCorrection() {
	if o.config.Metrics != nil {
		o.config.Metrics.CorrectionCounter.Inc()
	}
}

func planSummary(plan []*models.Step) []map[string]string {
	out := make([]map[string]string, 0, len(plan))
	for _, s := range plan {
		out = append(out, map[string]string{"id": s.ID, "description": s.Description})
	}
	return out
}

func allStepsCompleted(plan []*models.Step) bool {
	for _, s := range plan {
		if s.Status != models.StepCompleted {
			return false
		}
	}
	return true
}

func outputOf(step *models.Step) string {
	if step.Result == nil {
		return ""
	}
	if step.Result.Success {
		return step.Result.Output
	}
	return step.Result.Error
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...[truncated]"
}

// spliceSteps inserts extra immediately after index i in plan.
func spliceSteps(plan []*models.Step, i int, extra []*models.Step) []*models.Step {
	if len(extra) == 0 {
		return plan
	}
	out := make([]*models.Step, 0, len(plan)+len(extra))
	out = append(out, plan[:i+1]...)
	out = append(out, extra...)
	out = append(out, plan[i+1:]...)
	return out
}
