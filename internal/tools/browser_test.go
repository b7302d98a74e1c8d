package tools

import (
	"encoding/json"
	"testing"

	"github.com/taskforge/engine/internal/sandbox"
)

func TestShapeBrowserResultRead(t *testing.T) {
	result := shapeBrowserResult("read", "https://example.com", &sandbox.BrowserResult{
		Success: true, Title: "Example", Text: "hello world",
	})
	if result.Output != "hello world" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if result.Metadata["title"] != "Example" {
		t.Errorf("unexpected title metadata %v", result.Metadata["title"])
	}
}

func TestShapeBrowserResultScreenshot(t *testing.T) {
	result := shapeBrowserResult("screenshot", "https://example.com", &sandbox.BrowserResult{
		Success: true, Screenshot: "YmFzZTY0",
	})
	if len(result.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(result.Artifacts))
	}
	if result.Artifacts[0].Content != "YmFzZTY0" {
		t.Errorf("unexpected artifact content %q", result.Artifacts[0].Content)
	}
	if result.Artifacts[0].Metadata["mime_type"] != "image/png" {
		t.Errorf("expected image/png mime type, got %v", result.Artifacts[0].Metadata["mime_type"])
	}
}

func TestShapeBrowserResultExtractTable(t *testing.T) {
	result := shapeBrowserResult("extract_table", "https://example.com", &sandbox.BrowserResult{
		Success: true, Table: [][]string{{"a", "b"}, {"1", "2"}},
	})
	var table [][]string
	if err := json.Unmarshal([]byte(result.Output), &table); err != nil {
		t.Fatalf("output is not valid JSON table: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table))
	}
}

func TestBrowserToolBlocksPrivateTargets(t *testing.T) {
	tool := NewBrowserTool(nil)
	result, err := tool.Invoke(nil, jsonBody(t, browserArgs{Action: "open", URL: "http://169.254.169.254/latest/meta-data/"}), execContext("sandbox-1"))
	if err != nil {
		t.Fatalf("invoke should not raise for a blocked URL: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false for a private/internal target")
	}
}

func TestBrowserToolRejectsUnknownAction(t *testing.T) {
	tool := NewBrowserTool(nil)
	result, err := tool.Invoke(nil, jsonBody(t, browserArgs{Action: "teleport", URL: "https://example.com"}), execContext("sandbox-1"))
	if err != nil {
		t.Fatalf("invoke should not raise for an unknown action: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false for unknown action")
	}
}
