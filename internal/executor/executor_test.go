package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/taskforge/engine/pkg/models"
)

type fakeDispatcher struct {
	result      *models.ToolResult
	ok          bool
	panics      bool
	validateErr error
}

func (d *fakeDispatcher) Invoke(ctx context.Context, name string, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, bool) {
	if d.panics {
		panic("handler exploded")
	}
	return d.result, d.ok
}

func (d *fakeDispatcher) ValidateArguments(name string, args json.RawMessage) error {
	return d.validateErr
}

func TestExecuteStepSuccess(t *testing.T) {
	d := &fakeDispatcher{result: &models.ToolResult{Success: true, Output: "done"}, ok: true}
	e := New(d)

	step := &models.Step{ID: "s1", Tool: "shell", Arguments: json.RawMessage(`{}`)}
	result := e.ExecuteStep(context.Background(), step, models.ExecContext{})

	if result.Status != models.StepCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Result.Output != "done" {
		t.Errorf("unexpected output %q", result.Result.Output)
	}
}

func TestExecuteStepToolFailure(t *testing.T) {
	d := &fakeDispatcher{result: &models.ToolResult{Success: false, Error: "boom"}, ok: true}
	e := New(d)

	step := &models.Step{ID: "s1", Tool: "shell", Arguments: json.RawMessage(`{}`)}
	result := e.ExecuteStep(context.Background(), step, models.ExecContext{})

	if result.Status != models.StepFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
}

func TestExecuteStepUnknownTool(t *testing.T) {
	d := &fakeDispatcher{ok: false}
	e := New(d)

	step := &models.Step{ID: "s1", Tool: "nonexistent", Arguments: json.RawMessage(`{}`)}
	result := e.ExecuteStep(context.Background(), step, models.ExecContext{})

	if result.Status != models.StepFailed {
		t.Errorf("expected failed for unknown tool, got %s", result.Status)
	}
	if result.Result.Error == "" {
		t.Error("expected a tool-not-found error message")
	}
}

func TestExecuteStepRejectsInvalidArguments(t *testing.T) {
	d := &fakeDispatcher{ok: true, result: &models.ToolResult{Success: true}, validateErr: errors.New("missing required field \"path\"")}
	e := New(d)

	step := &models.Step{ID: "s1", Tool: "shell", Arguments: json.RawMessage(`{}`)}
	result := e.ExecuteStep(context.Background(), step, models.ExecContext{})

	if result.Status != models.StepFailed {
		t.Errorf("expected failed for invalid arguments, got %s", result.Status)
	}
	if result.Result.Error == "" {
		t.Error("expected a validation error message")
	}
}

func TestExecuteStepRecoversFromPanic(t *testing.T) {
	d := &fakeDispatcher{panics: true}
	e := New(d)

	step := &models.Step{ID: "s1", Tool: "shell", Arguments: json.RawMessage(`{}`)}

	result := e.ExecuteStep(context.Background(), step, models.ExecContext{})
	if result.Status != models.StepFailed {
		t.Errorf("expected failed after panic recovery, got %s", result.Status)
	}
}
