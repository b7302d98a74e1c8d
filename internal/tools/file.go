package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/pkg/models"
)

// FileReadTool reads a file from the sandbox's /work tree.
type FileReadTool struct {
	manager *sandbox.Manager
}

func NewFileReadTool(manager *sandbox.Manager) *FileReadTool {
	return &FileReadTool{manager: manager}
}

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) Description() string {
	return "Reads the content of a file inside the task's sandbox. Files larger than 5 MiB are rejected by the sandbox's file service."
}

func (t *FileReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "path to read, relative to /work"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

type pathArgs struct {
	Path string `json:"path"`
}

func (t *FileReadTool) Invoke(ctx context.Context, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("file_read: invalid arguments: %w", err)
	}

	result, err := t.manager.ReadFile(ctx, ec.SandboxID, a.Path)
	if err != nil {
		return nil, fmt.Errorf("file_read: sandbox unavailable: %w", err)
	}
	if !result.Success {
		return &models.ToolResult{Success: false, Error: result.Error}, nil
	}
	return &models.ToolResult{
		Success:  true,
		Output:   result.Content,
		Metadata: map[string]any{"size": result.Size},
	}, nil
}

// FileWriteTool writes a file to the sandbox's /work tree, creating parent
// directories as needed, and emits an Artifact describing what was written.
type FileWriteTool struct {
	manager *sandbox.Manager
}

func NewFileWriteTool(manager *sandbox.Manager) *FileWriteTool {
	return &FileWriteTool{manager: manager}
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return "Writes content to a file inside the task's sandbox, creating parent directories as needed."
}

func (t *FileWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "path to write, relative to /work"},
			"content": {"type": "string", "description": "file content"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`)
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FileWriteTool) Invoke(ctx context.Context, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, error) {
	var a writeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("file_write: invalid arguments: %w", err)
	}

	result, err := t.manager.WriteFile(ctx, ec.SandboxID, a.Path, a.Content)
	if err != nil {
		return nil, fmt.Errorf("file_write: sandbox unavailable: %w", err)
	}
	if !result.Success {
		return &models.ToolResult{Success: false, Error: result.Error}, nil
	}

	artifact := &models.Artifact{
		Type: models.ArtifactFile,
		Path: a.Path,
		Metadata: map[string]any{
			"size": int64(len(a.Content)),
		},
	}
	return &models.ToolResult{
		Success:   true,
		Output:    fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path),
		Artifacts: []*models.Artifact{artifact},
	}, nil
}

// FileListTool lists a directory inside the sandbox's /work tree.
type FileListTool struct {
	manager *sandbox.Manager
}

func NewFileListTool(manager *sandbox.Manager) *FileListTool {
	return &FileListTool{manager: manager}
}

func (t *FileListTool) Name() string { return "file_list" }

func (t *FileListTool) Description() string {
	return "Lists the contents of a directory inside the task's sandbox. Defaults to the /work root if no path is given."
}

func (t *FileListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "directory to list, relative to /work; defaults to the work root"}
		},
		"additionalProperties": false
	}`)
}

func (t *FileListTool) Invoke(ctx context.Context, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, error) {
	var a pathArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("file_list: invalid arguments: %w", err)
		}
	}
	listPath := a.Path
	if listPath == "" {
		listPath = "."
	}

	result, err := t.manager.ListDirectory(ctx, ec.SandboxID, listPath)
	if err != nil {
		return nil, fmt.Errorf("file_list: sandbox unavailable: %w", err)
	}
	if !result.Success {
		return &models.ToolResult{Success: false, Error: result.Error}, nil
	}

	var lines []string
	for _, e := range result.Entries {
		name := e.Name
		if e.IsDir {
			name = path.Clean(name) + "/"
		}
		lines = append(lines, fmt.Sprintf("%-40s %10d bytes", name, e.Size))
	}

	return &models.ToolResult{
		Success:  true,
		Output:   strings.Join(lines, "\n"),
		Metadata: map[string]any{"entries": result.Entries},
	}, nil
}
