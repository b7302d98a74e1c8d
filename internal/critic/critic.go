// Package critic implements the Critic (C6): a post-step evaluation that
// judges whether execution is still on track and, when it is not, splices
// corrective steps into the remaining plan.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskforge/engine/internal/llm"
	"github.com/taskforge/engine/pkg/models"
)

// DefaultConfidenceThreshold is the minimum confidence a not-on-track
// verdict must carry before its corrective steps are applied.
const DefaultConfidenceThreshold = 0.7

// Catalog is the subset of registry.Registry the Critic needs to validate
// its own corrective steps the same way the Planner validates its own.
type Catalog interface {
	Has(name string) bool
}

const systemPrompt = `You are the critic component of an autonomous task execution system.
You are given the original goal, the full current plan, the steps executed
so far with their results, and the step that was just executed. Judge
whether execution is still on track to achieve the goal.

Respond with a JSON object only — no prose, no Markdown fences — with this shape:

  {
    "on_track": bool,
    "issues": [string],
    "suggestions": [string],
    "confidence": number between 0 and 1,
    "corrective_steps": [
      {"id": string, "tool": string, "description": string, "arguments": object, "required": bool}
    ]
  }

corrective_steps is only meaningful when on_track is false; omit or leave it
empty when on_track is true. Use only tool names from the plan's existing
steps — do not invent new tools.`

// Verdict is the Critic's evaluation of one executed step.
type Verdict struct {
	OnTrack         bool             `json:"on_track"`
	Issues          []string         `json:"issues"`
	Suggestions     []string         `json:"suggestions"`
	Confidence      float64          `json:"confidence"`
	CorrectiveSteps []*models.Step   `json:"-"`
}

type rawVerdict struct {
	OnTrack         bool            `json:"on_track"`
	Issues          []string        `json:"issues"`
	Suggestions     []string        `json:"suggestions"`
	Confidence      float64         `json:"confidence"`
	CorrectiveSteps []rawCorrective `json:"corrective_steps"`
}

type rawCorrective struct {
	ID          string          `json:"id"`
	Tool        string          `json:"tool"`
	Description string          `json:"description"`
	Arguments   json.RawMessage `json:"arguments"`
	Required    *bool           `json:"required"`
}

// Critic evaluates executed steps and proposes corrections.
type Critic struct {
	client              llm.Client
	model               string
	maxTokens           int
	confidenceThreshold float64
}

// Option configures a Critic.
type Option func(*Critic)

// WithModel overrides the client's default model for critic calls.
func WithModel(model string) Option {
	return func(c *Critic) { c.model = model }
}

// WithConfidenceThreshold overrides the default 0.7 threshold a not-on-track
// verdict must meet before its corrective steps are applied.
func WithConfidenceThreshold(t float64) Option {
	return func(c *Critic) { c.confidenceThreshold = t }
}

// New builds a Critic bound to client.
func New(client llm.Client, opts ...Option) *Critic {
	c := &Critic{client: client, maxTokens: 2048, confidenceThreshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate judges the just-executed step against the goal, the full plan,
// and the execution history (the subset of the plan that is not pending).
// Any failure inside the Critic — an LLM error or a JSON parse failure — is
// non-fatal: it returns an optimistic fallback verdict (onTrack=true,
// confidence=0.5) and a nil error, so the Orchestrator always has something
// to log and continue with, never something to treat as a terminal error.
func (c *Critic) Evaluate(ctx context.Context, goal string, plan []*models.Step, history []*models.Step, justExecuted *models.Step, catalog Catalog) *Verdict {
	prompt := buildPrompt(goal, plan, history, justExecuted)

	raw, err := c.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		Model:     c.model,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return optimisticFallback()
	}

	verdict, err := parseVerdict(raw, catalog)
	if err != nil {
		return optimisticFallback()
	}
	return verdict
}

// ShouldApplyCorrections reports whether v's corrective steps should be
// spliced into the plan: not on track, and confident enough about it.
func (c *Critic) ShouldApplyCorrections(v *Verdict) bool {
	return !v.OnTrack && v.Confidence >= c.confidenceThreshold && len(v.CorrectiveSteps) > 0
}

func optimisticFallback() *Verdict {
	return &Verdict{OnTrack: true, Confidence: 0.5}
}

func buildPrompt(goal string, plan []*models.Step, history []*models.Step, justExecuted *models.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal:\n%s\n\n", goal)

	b.WriteString("Full plan:\n")
	for _, s := range plan {
		fmt.Fprintf(&b, "- [%s] %s (tool=%s, status=%s)\n", s.ID, s.Description, s.Tool, s.Status)
	}

	b.WriteString("\nExecution history:\n")
	for _, s := range history {
		outcome := "pending"
		if s.Result != nil {
			if s.Result.Success {
				outcome = "succeeded: " + s.Result.Output
			} else {
				outcome = "failed: " + s.Result.Error
			}
		}
		fmt.Fprintf(&b, "- [%s] %s\n", s.ID, outcome)
	}

	fmt.Fprintf(&b, "\nJust executed: [%s] %s\n", justExecuted.ID, justExecuted.Description)
	if justExecuted.Result != nil {
		fmt.Fprintf(&b, "Result: success=%t output=%s error=%s\n",
			justExecuted.Result.Success, justExecuted.Result.Output, justExecuted.Result.Error)
	}
	return b.String()
}

func parseVerdict(raw string, catalog Catalog) (*Verdict, error) {
	cleaned := stripCodeFences(raw)

	var rv rawVerdict
	if err := json.Unmarshal([]byte(cleaned), &rv); err != nil {
		return nil, fmt.Errorf("critic: response is not valid JSON: %w", err)
	}

	v := &Verdict{
		OnTrack:     rv.OnTrack,
		Issues:      rv.Issues,
		Suggestions: rv.Suggestions,
		Confidence:  rv.Confidence,
	}

	for _, rc := range rv.CorrectiveSteps {
		step, err := normalizeCorrective(rc, catalog)
		if err != nil {
			return nil, fmt.Errorf("critic: corrective step: %w", err)
		}
		v.CorrectiveSteps = append(v.CorrectiveSteps, step)
	}
	return v, nil
}

func normalizeCorrective(rc rawCorrective, catalog Catalog) (*models.Step, error) {
	if rc.Tool == "" || rc.Description == "" || len(rc.Arguments) == 0 {
		return nil, fmt.Errorf("missing required field")
	}
	if !catalog.Has(rc.Tool) {
		return nil, fmt.Errorf("tool %q is not in the registry", rc.Tool)
	}

	id := rc.ID
	if id == "" {
		id = newCorrectiveID()
	}
	required := true
	if rc.Required != nil {
		required = *rc.Required
	}

	return &models.Step{
		ID:          id,
		Tool:        rc.Tool,
		Description: rc.Description,
		Arguments:   rc.Arguments,
		Required:    required,
		Status:      models.StepPending,
	}, nil
}

// newCorrectiveID builds an ID that visibly marks a step as Critic-spliced
// rather than planner-originated, for readability in the event log.
func newCorrectiveID() string {
	return "correction-" + uuid.NewString()[:8]
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
