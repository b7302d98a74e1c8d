// Package planner implements the Planner (C4): one LLM call that turns a
// goal and the registry's tool catalog into an ordered, validated list of
// Steps.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge/engine/internal/llm"
	"github.com/taskforge/engine/pkg/models"
)

// ToolCatalog is the subset of registry.Registry the Planner depends on —
// describe() only, per the rationale that adding a tool never requires a
// planner change.
type ToolCatalog interface {
	Describe() []models.ToolDescription
	Has(name string) bool
}

const systemPrompt = `You are the planning component of an autonomous task execution system.
Given a goal and a catalog of available tools, produce an ordered plan of steps
that accomplishes the goal. Respond with a JSON array only — no prose, no
Markdown fences. Each element must be an object with these fields:

  id           string, unique within the plan
  tool         string, must be one of the listed tool names
  description  string, human-readable summary of what the step does
  arguments    object, conforming to the named tool's input schema
  success_criterion  optional string, what "done" looks like for this step
  required     optional bool, defaults to true; false means a failure of
               this step does not abort the remaining plan

Produce the smallest plan that accomplishes the goal. Do not invent tools
that are not in the catalog.`

// Planner turns a goal into a validated plan.
type Planner struct {
	client      llm.Client
	model       string
	maxTokens   int
	temperature float64
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel overrides the client's default model for planning calls.
func WithModel(model string) Option {
	return func(p *Planner) { p.model = model }
}

// WithMaxTokens bounds the plan response length.
func WithMaxTokens(n int) Option {
	return func(p *Planner) { p.maxTokens = n }
}

// New builds a Planner bound to client with low-to-moderate default
// sampling temperature and a generous token budget.
func New(client llm.Client, opts ...Option) *Planner {
	p := &Planner{client: client, maxTokens: 4096, temperature: 0.3}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan sends one completion request combining the role instructions, the
// catalog's tool descriptions, and the goal/context, then parses and
// validates the result into an ordered, non-empty Step list. A validation
// or parse failure is a terminal planning error — the Orchestrator does
// not retry planning.
func (p *Planner) Plan(ctx context.Context, goal string, taskCtx map[string]any, catalog ToolCatalog) ([]*models.Step, error) {
	prompt := buildPrompt(goal, taskCtx, catalog.Describe())

	raw, err := p.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: llm call failed: %w", err)
	}

	rawSteps, err := parseStepArray(raw)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	if len(rawSteps) == 0 {
		return nil, fmt.Errorf("planner: model returned an empty plan")
	}

	steps := make([]*models.Step, 0, len(rawSteps))
	for i, rs := range rawSteps {
		step, err := normalizeStep(rs, catalog)
		if err != nil {
			return nil, fmt.Errorf("planner: step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildPrompt(goal string, taskCtx map[string]any, tools []models.ToolDescription) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  schema: %s\n", t.Name, t.Description, string(t.Schema))
	}
	b.WriteString("\nGoal:\n")
	b.WriteString(goal)
	if len(taskCtx) > 0 {
		ctxJSON, _ := json.Marshal(taskCtx)
		b.WriteString("\n\nContext:\n")
		b.Write(ctxJSON)
	}
	return b.String()
}

// rawStep is the permissive shape the model's JSON is decoded into before
// field-level validation.
type rawStep struct {
	ID               string          `json:"id"`
	Tool             string          `json:"tool"`
	Description      string          `json:"description"`
	Arguments        json.RawMessage `json:"arguments"`
	SuccessCriterion string          `json:"success_criterion"`
	Required         *bool           `json:"required"`
}

// parseStepArray strips Markdown code fences if present, then parses the
// remainder as JSON. If the result is a single object rather than an
// array, it is wrapped — a small, deterministic normalization to tolerate
// known model quirks, applied before validation so a malformed-in-substance
// plan still fails loudly at the validation step.
func parseStepArray(raw string) ([]rawStep, error) {
	cleaned := stripCodeFences(raw)

	var asArray []rawStep
	if err := json.Unmarshal([]byte(cleaned), &asArray); err == nil {
		return asArray, nil
	}

	var asObject rawStep
	if err := json.Unmarshal([]byte(cleaned), &asObject); err != nil {
		return nil, fmt.Errorf("response is not a valid JSON plan: %w", err)
	}
	return []rawStep{asObject}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(s[:nl])
		if firstLine == "json" || firstLine == "" {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeStep validates a raw decoded step and applies defaults
// (status=pending, required=true) per §4.4.
func normalizeStep(rs rawStep, catalog ToolCatalog) (*models.Step, error) {
	if rs.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	if rs.Tool == "" {
		return nil, fmt.Errorf("missing tool")
	}
	if rs.Description == "" {
		return nil, fmt.Errorf("missing description")
	}
	if len(rs.Arguments) == 0 {
		return nil, fmt.Errorf("missing arguments")
	}
	if !catalog.Has(rs.Tool) {
		return nil, fmt.Errorf("tool %q is not in the registry", rs.Tool)
	}

	required := true
	if rs.Required != nil {
		required = *rs.Required
	}

	return &models.Step{
		ID:               rs.ID,
		Description:      rs.Description,
		Tool:             rs.Tool,
		Arguments:        rs.Arguments,
		SuccessCriterion: rs.SuccessCriterion,
		Required:         required,
		Status:           models.StepPending,
	}, nil
}
