// Package registry implements the Tool Registry (C1): a process-wide,
// thread-safe mapping from tool name to handler. It is deliberately flat —
// no hierarchies, no versioning — so that adding a tool never requires a
// Planner change; the Planner depends only on Describe().
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/taskforge/engine/pkg/models"
)

// Registry holds named tool handlers.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]models.Tool
	schemas map[string]*jsonschema.Schema
	logger  Logger
}

// Logger is the minimal logging surface the registry needs, satisfied by
// *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// New creates an empty registry. A nil logger disables the
// overwrite-on-reregister warning.
func New(logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		tools:   make(map[string]models.Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool, idempotent on name: a second registration under
// the same name overwrites the first and emits a warning rather than
// returning an error — rejection here is a policy decision made by the
// caller, not the registry.
func (r *Registry) Register(tool models.Tool) error {
	compiled, err := jsonschema.CompileString(tool.Name(), string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("registry: compile schema for %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		r.logger.Warn("tool re-registered, overwriting", "tool", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = compiled
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name resolves in the registry.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// All returns every registered tool.
func (r *Registry) All() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Describe returns {name, description, schema} for every tool, the shape
// the Planner's prompt is built from.
func (r *Registry) Describe() []models.ToolDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescription, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, models.ToolDescription{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return out
}

// ValidateArguments checks args against the tool's compiled JSON schema.
// This is the "never dispatch a step whose arguments don't conform" trust
// boundary from SPEC_FULL.md §10.
func (r *Registry) ValidateArguments(toolName string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[toolName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: unknown tool %q", toolName)
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("registry: arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("registry: arguments for %q failed schema validation: %w", toolName, err)
	}
	return nil
}

// Invoke looks up name and runs it. Callers (the Executor) are expected to
// treat a missing tool as a recorded step failure, never a raised error;
// Invoke itself simply reports ok=false for that case.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage, ec models.ExecContext) (result *models.ToolResult, ok bool) {
	tool, found := r.Get(name)
	if !found {
		return nil, false
	}
	res, err := tool.Invoke(ctx, args, ec)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error()}, true
	}
	return res, true
}
