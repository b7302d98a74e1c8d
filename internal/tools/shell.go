// Package tools implements the Tool Adapters (C3): the five canonical
// handlers — shell, file_read, file_write, file_list, browser — that sit
// between the Tool Registry and the Sandbox Manager's façade calls. Every
// adapter is a thin translation layer: it never talks to the container
// runtime directly, only through sandbox.Manager.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/pkg/models"
)

const (
	shellOutputLimit  = 10000
	truncationMarker  = "\n...[truncated]"
	defaultShellTimeo = 30 * time.Second
)

// ShellTool forwards a command to the sandbox's shell service.
type ShellTool struct {
	manager *sandbox.Manager
}

// NewShellTool builds the shell adapter bound to manager.
func NewShellTool(manager *sandbox.Manager) *ShellTool {
	return &ShellTool{manager: manager}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Runs a shell command inside the task's sandbox and returns its stdout. " +
		"Use for file manipulation, running scripts, installing packages, or inspecting system state."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "shell command to execute"},
			"timeout": {"type": "integer", "description": "timeout in milliseconds", "minimum": 1},
			"cwd": {"type": "string", "description": "working directory, relative to /work"}
		},
		"required": ["command"],
		"additionalProperties": false
	}`)
}

type shellArgs struct {
	Command string `json:"command"`
	Timeout int64  `json:"timeout,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
}

// Invoke forwards command to the sandbox's shell service. Blocklist
// enforcement lives in that in-sandbox service (defense in depth), not
// here; this adapter only shapes the request and truncates the response.
func (t *ShellTool) Invoke(ctx context.Context, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("shell: invalid arguments: %w", err)
	}

	timeout := defaultShellTimeo
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Millisecond
	} else if ec.DefaultTimeout > 0 {
		timeout = time.Duration(ec.DefaultTimeout) * time.Second
	}
	cwd := a.Cwd
	if cwd == "" {
		cwd = ec.DefaultCwd
	}

	result, err := t.manager.ExecuteShell(ctx, ec.SandboxID, a.Command, timeout, cwd)
	if err != nil {
		return nil, fmt.Errorf("shell: sandbox unavailable: %w", err)
	}
	if !result.Success {
		return &models.ToolResult{Success: false, Error: result.Error}, nil
	}

	stdout, truncated := truncate(result.Stdout)
	stderr, stderrTruncated := truncate(result.Stderr)

	return &models.ToolResult{
		Success: true,
		Output:  stdout,
		Metadata: map[string]any{
			"stderr":           stderr,
			"exit_code":        result.ExitCode,
			"stdout_truncated": truncated,
			"stderr_truncated": stderrTruncated,
		},
	}, nil
}

func truncate(s string) (string, bool) {
	if len(s) <= shellOutputLimit {
		return s, false
	}
	return s[:shellOutputLimit] + truncationMarker, true
}
