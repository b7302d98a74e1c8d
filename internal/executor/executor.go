// Package executor implements the Executor (C5): it turns one pending Step
// into its completed-or-failed form by dispatching to the Tool Registry.
// The Executor is the trust boundary between a task's plan and the tools
// that actually touch the sandbox — nothing a handler does, including
// panicking, is allowed to propagate past it.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskforge/engine/pkg/models"
)

// Dispatcher is the subset of registry.Registry the Executor depends on.
type Dispatcher interface {
	Invoke(ctx context.Context, name string, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, bool)

	// ValidateArguments checks args against name's registered schema. The
	// Executor calls this before Invoke — a step never reaches a handler
	// with an argument bag the handler wasn't written to expect.
	ValidateArguments(name string, args json.RawMessage) error
}

// Executor dispatches steps to a Dispatcher.
type Executor struct {
	dispatcher Dispatcher
}

// New builds an Executor bound to dispatcher.
func New(dispatcher Dispatcher) *Executor {
	return &Executor{dispatcher: dispatcher}
}

// ExecuteStep looks up step.Tool in the registry and runs it with ec. An
// unknown tool name is recorded as a failed step, never raised as an error.
// A panicking handler is recovered and recorded as a failed step as well —
// the Orchestrator never sees a handler's panic. The step passed in is
// mutated in place and also returned for convenience.
func (e *Executor) ExecuteStep(ctx context.Context, step *models.Step, ec models.ExecContext) (result *models.Step) {
	step.Status = models.StepRunning

	res := e.invokeSafely(ctx, step, ec)
	step.Result = toStepResult(res)
	if res.Success {
		step.Status = models.StepCompleted
	} else {
		step.Status = models.StepFailed
	}
	return step
}

// toStepResult copies a tool's ToolResult into the Step-owned StepResult —
// the two types carry the same fields but are kept distinct because a tool
// never sees or produces a Step.
func toStepResult(res *models.ToolResult) *models.StepResult {
	return &models.StepResult{
		Success:   res.Success,
		Output:    res.Output,
		Artifacts: res.Artifacts,
		Error:     res.Error,
		Metadata:  res.Metadata,
	}
}

func (e *Executor) invokeSafely(ctx context.Context, step *models.Step, ec models.ExecContext) (res *models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = &models.ToolResult{Success: false, Error: fmt.Sprintf("tool %q panicked: %v", step.Tool, r)}
		}
	}()

	if err := e.dispatcher.ValidateArguments(step.Tool, step.Arguments); err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("argument validation failed: %v", err)}
	}

	toolResult, ok := e.dispatcher.Invoke(ctx, step.Tool, step.Arguments, ec)
	if !ok {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %q", step.Tool)}
	}
	if toolResult == nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("tool %q returned no result", step.Tool)}
	}
	return toolResult
}
