package models

import (
	"context"
	"encoding/json"
)

// ExecContext is the bounded execution context an Executor builds for a
// single tool invocation: which sandbox it targets, which task/step it
// belongs to, and the default timeout/working directory to apply when the
// step's own arguments don't override them.
type ExecContext struct {
	TaskID         string
	StepID         string
	SandboxID      string
	DefaultTimeout int64 // seconds
	DefaultCwd     string
}

// ToolResult is the uniform shape every tool handler returns, regardless of
// what it wraps (sandbox shell call, file RPC, browser action).
type ToolResult struct {
	Success   bool
	Output    string
	Artifacts []*Artifact
	Error     string
	Metadata  map[string]any
}

// ToolDescription is the {name, description, schema} triple the Planner's
// prompt and the Critic's corrective-step validation are both built from.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Tool is a named handler the registry dispatches Steps to. Each tool
// advertises a JSON-schema input contract so the Planner's prompt and the
// registry's schema validation share a single source of truth.
type Tool interface {
	// Name is the unique identifier used in Step.Tool and in the
	// Planner's prompt.
	Name() string

	// Description is natural language explaining what the tool does and
	// when to use it.
	Description() string

	// Schema is the JSON Schema describing the tool's input object.
	Schema() json.RawMessage

	// Invoke runs the tool against the given arguments and execution
	// context. It must not panic; callers recover defensively regardless.
	Invoke(ctx context.Context, args json.RawMessage, ec ExecContext) (*ToolResult, error)
}
