// Package llm wraps the external language-model endpoint behind a single
// synchronous call. The Planner and Critic treat the model as a function
// string -> string; streaming, multi-turn conversation state, and tool
// calling live in the Planner/Critic layer, not here.
package llm

import (
	"context"
	"errors"
)

// ErrNoClient is returned when a component is configured without an LLM client.
var ErrNoClient = errors.New("llm: no client configured")

// Request is a single completion request.
type Request struct {
	// System is the system prompt.
	System string

	// Prompt is the user-turn content. The caller composes the full
	// instruction (role, tool catalog, output format, goal) into this string.
	Prompt string

	// Model overrides the client's default model when non-empty.
	Model string

	// MaxTokens bounds the response length.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64
}

// Client is the minimal surface the orchestration core needs from a
// language-model backend: one blocking call, one string response.
type Client interface {
	// Complete sends req and returns the model's text response.
	Complete(ctx context.Context, req Request) (string, error)

	// Name identifies the backend for logging/metrics.
	Name() string
}
