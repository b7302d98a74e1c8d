package planner

import (
	"context"
	"encoding/json"
	"strings"
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

type fakeCatalog struct {
	tools map[string]bool
}

func (c *fakeCatalog) Describe() []models.ToolDescription {
	out := make([]models.ToolDescription, 0, len(c.tools))
	for name := range c.tools {
		out = append(out, models.ToolDescription{Name: name, Description: "does things", Schema: json.RawMessage(`{}`)})
	}
	return out
}

func (c *fakeCatalog) Has(name string) bool { return c.tools[name] }

func TestPlanParsesArray(t *testing.T) {
	client := &fakeClient{response: `[
		{"id": "step-1", "tool": "shell", "description": "list files", "arguments": {"command": "ls"}}
	]`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	steps, err := p.Plan(context.Background(), "list the files", nil, catalog)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Required != true {
		t.Error("expected default required=true")
	}
	if steps[0].Status != models.StepPending {
		t.Error("expected default status=pending")
	}
}

func TestPlanStripsCodeFences(t *testing.T) {
	client := &fakeClient{response: "```json\n[{\"id\": \"s1\", \"tool\": \"shell\", \"description\": \"x\", \"arguments\": {\"command\": \"ls\"}}]\n```"}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	steps, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
}

func TestPlanWrapsSingleObject(t *testing.T) {
	client := &fakeClient{response: `{"id": "s1", "tool": "shell", "description": "x", "arguments": {"command": "ls"}}`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	steps, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
}

func TestPlanRejectsUnknownTool(t *testing.T) {
	client := &fakeClient{response: `[{"id": "s1", "tool": "nonexistent", "description": "x", "arguments": {}}]`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	_, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("expected error to name the tool, got %v", err)
	}
}

func TestPlanRejectsMissingFields(t *testing.T) {
	client := &fakeClient{response: `[{"id": "s1", "tool": "shell"}]`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	_, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err == nil {
		t.Fatal("expected error for missing description/arguments")
	}
}

func TestPlanRejectsEmptyPlan(t *testing.T) {
	client := &fakeClient{response: `[]`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	_, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err == nil {
		t.Fatal("expected error for empty plan")
	}
}

func TestPlanRejectsMalformedJSON(t *testing.T) {
	client := &fakeClient{response: `not json at all`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	_, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestPlanRespectsExplicitRequiredFalse(t *testing.T) {
	client := &fakeClient{response: `[{"id": "s1", "tool": "shell", "description": "x", "arguments": {"command": "ls"}, "required": false}]`}
	p := New(client)
	catalog := &fakeCatalog{tools: map[string]bool{"shell": true}}

	steps, err := p.Plan(context.Background(), "goal", nil, catalog)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if steps[0].Required {
		t.Error("expected required=false to be respected")
	}
}
