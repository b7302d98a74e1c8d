package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskforge/engine/internal/net/ssrf"
	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/pkg/models"
)

var browserActions = map[string]bool{
	"open": true, "read": true, "screenshot": true,
	"extract_table": true, "click": true, "fill_form": true,
}

// BrowserTool drives the sandbox's headless-Chrome instance over CDP.
type BrowserTool struct {
	manager *sandbox.Manager
}

func NewBrowserTool(manager *sandbox.Manager) *BrowserTool {
	return &BrowserTool{manager: manager}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Drives a headless browser inside the task's sandbox: navigate, read page text, " +
		"take a screenshot, extract a table, click an element, or fill a form field."
}

func (t *BrowserTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["open", "read", "screenshot", "extract_table", "click", "fill_form"]},
			"url": {"type": "string", "description": "URL to navigate to"},
			"selector": {"type": "string", "description": "CSS selector, required for screenshot/click/fill_form/extract_table when targeting a specific element"},
			"instructions": {"type": "string", "description": "text to type, used by fill_form"},
			"timeout": {"type": "integer", "description": "timeout in milliseconds", "minimum": 1}
		},
		"required": ["action", "url"],
		"additionalProperties": false
	}`)
}

type browserArgs struct {
	Action       string `json:"action"`
	URL          string `json:"url"`
	Selector     string `json:"selector,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Timeout      int64  `json:"timeout,omitempty"`
}

func (t *BrowserTool) Invoke(ctx context.Context, args json.RawMessage, ec models.ExecContext) (*models.ToolResult, error) {
	var a browserArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("browser: invalid arguments: %w", err)
	}
	if !browserActions[a.Action] {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("unknown browser action %q", a.Action)}, nil
	}
	if host, blocked := ssrf.CheckURL(a.URL); blocked {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("navigation to %q blocked: %s resolves to a private or internal address", a.URL, host)}, nil
	}

	timeout := 30 * time.Second
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Millisecond
	}

	result, err := t.manager.ExecuteBrowser(ctx, ec.SandboxID, sandbox.BrowserAction{
		Action:       a.Action,
		URL:          a.URL,
		Selector:     a.Selector,
		Instructions: a.Instructions,
		Timeout:      timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: sandbox unavailable: %w", err)
	}
	if !result.Success {
		return &models.ToolResult{Success: false, Error: result.Error}, nil
	}

	return shapeBrowserResult(a.Action, a.URL, result), nil
}

func shapeBrowserResult(action, url string, result *sandbox.BrowserResult) *models.ToolResult {
	switch action {
	case "read":
		return &models.ToolResult{
			Success:  true,
			Output:   result.Text,
			Metadata: map[string]any{"title": result.Title, "url": url},
		}

	case "screenshot":
		artifact := &models.Artifact{
			Type:    models.ArtifactData,
			Content: result.Screenshot,
			Metadata: map[string]any{
				"mime_type": "image/png",
				"encoding":  "base64",
				"url":       url,
			},
		}
		return &models.ToolResult{
			Success:   true,
			Output:    fmt.Sprintf("captured screenshot of %s", url),
			Artifacts: []*models.Artifact{artifact},
		}

	case "extract_table":
		data, _ := json.Marshal(result.Table)
		return &models.ToolResult{
			Success:  true,
			Output:   string(data),
			Metadata: map[string]any{"rows": len(result.Table), "url": url},
		}

	default: // open, click, fill_form
		return &models.ToolResult{
			Success: true,
			Output:  fmt.Sprintf("%s: %s", action, url),
		}
	}
}
