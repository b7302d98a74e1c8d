package critic

import (
	"context"
	"testing"

	"github.com/taskforge/engine/internal/llm"
	"github.com/taskforge/engine/pkg/models"
)

type fakeClient struct {
	response string
	err      error
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	return c.response, c.err
}

func (c *fakeClient) Name() string { return "fake" }

type fakeCatalog struct{ tools map[string]bool }

func (c *fakeCatalog) Has(name string) bool { return c.tools[name] }

func step(id, tool string, success bool) *models.Step {
	return &models.Step{
		ID:     id,
		Tool:   tool,
		Status: models.StepCompleted,
		Result: &models.StepResult{Success: success, Output: "ok"},
	}
}

func TestEvaluateOnTrack(t *testing.T) {
	client := &fakeClient{response: `{"on_track": true, "confidence": 0.9, "issues": [], "suggestions": []}`}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", true), catalog)
	if !v.OnTrack {
		t.Error("expected on_track=true")
	}
	if c.ShouldApplyCorrections(v) {
		t.Error("should not apply corrections when on track")
	}
}

func TestEvaluateAppliesCorrectionsWhenConfident(t *testing.T) {
	client := &fakeClient{response: `{
		"on_track": false,
		"confidence": 0.85,
		"issues": ["wrong directory"],
		"corrective_steps": [
			{"tool": "shell", "description": "cd to correct dir", "arguments": {"command": "cd /work"}}
		]
	}`}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", false), catalog)
	if v.OnTrack {
		t.Error("expected on_track=false")
	}
	if !c.ShouldApplyCorrections(v) {
		t.Fatal("expected corrections to apply at confidence 0.85")
	}
	if len(v.CorrectiveSteps) != 1 {
		t.Fatalf("expected 1 corrective step, got %d", len(v.CorrectiveSteps))
	}
	if v.CorrectiveSteps[0].ID == "" {
		t.Error("expected a generated ID for the corrective step")
	}
}

func TestEvaluateWithholdsCorrectionsBelowThreshold(t *testing.T) {
	client := &fakeClient{response: `{
		"on_track": false,
		"confidence": 0.4,
		"corrective_steps": [
			{"tool": "shell", "description": "retry", "arguments": {"command": "ls"}}
		]
	}`}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", false), catalog)
	if c.ShouldApplyCorrections(v) {
		t.Error("should not apply corrections below the confidence threshold")
	}
}

func TestEvaluateFallsBackOptimisticallyOnLLMError(t *testing.T) {
	client := &fakeClient{err: assertErr{}}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", true), catalog)
	if !v.OnTrack || v.Confidence != 0.5 {
		t.Errorf("expected optimistic fallback, got %+v", v)
	}
}

func TestEvaluateFallsBackOptimisticallyOnParseFailure(t *testing.T) {
	client := &fakeClient{response: "not json"}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", true), catalog)
	if !v.OnTrack || v.Confidence != 0.5 {
		t.Errorf("expected optimistic fallback, got %+v", v)
	}
}

func TestEvaluateRejectsUnknownCorrectiveTool(t *testing.T) {
	client := &fakeClient{response: `{
		"on_track": false,
		"confidence": 0.9,
		"corrective_steps": [{"tool": "nonexistent", "description": "x", "arguments": {}}]
	}`}
	c := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	v := c.Evaluate(context.Background(), "goal", nil, nil, step("s1", "shell", false), catalog)
	if !v.OnTrack {
		t.Error("an unknown corrective tool should fall back to the optimistic verdict")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "llm unavailable" }
