package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestFileReadWriteListTools(t *testing.T) {
	var written string
	mux := http.NewServeMux()
	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		var body writeArgs
		json.NewDecoder(r.Body).Decode(&body)
		written = body.Content
		json.NewEncoder(w).Encode(map[string]any{"success": true, "size": len(body.Content)})
	})
	mux.HandleFunc("/read", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "content": written, "size": len(written)})
	})
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"entries": []map[string]any{
				{"name": "notes.txt", "is_dir": false, "size": len(written)},
			},
		})
	})
	mgr, sandboxID := newTestManager(t, mux)
	ec := execContext(sandboxID)

	writeTool := NewFileWriteTool(mgr)
	result, err := writeTool.Invoke(context.Background(), jsonBody(t, writeArgs{Path: "notes.txt", Content: "hello"}), ec)
	if err != nil {
		t.Fatalf("write invoke: %v", err)
	}
	if !result.Success {
		t.Fatalf("write failed: %s", result.Error)
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Path != "notes.txt" {
		t.Fatalf("expected one artifact for notes.txt, got %+v", result.Artifacts)
	}

	readTool := NewFileReadTool(mgr)
	result, err = readTool.Invoke(context.Background(), jsonBody(t, pathArgs{Path: "notes.txt"}), ec)
	if err != nil {
		t.Fatalf("read invoke: %v", err)
	}
	if result.Output != "hello" {
		t.Fatalf("expected 'hello', got %q", result.Output)
	}

	listTool := NewFileListTool(mgr)
	result, err = listTool.Invoke(context.Background(), jsonBody(t, pathArgs{Path: "."}), ec)
	if err != nil {
		t.Fatalf("list invoke: %v", err)
	}
	if result.Output == "" {
		t.Fatal("expected non-empty listing output")
	}
}

func TestFileListToolDefaultsToWorkRoot(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		var body pathArgs
		json.NewDecoder(r.Body).Decode(&body)
		gotPath = body.Path
		json.NewEncoder(w).Encode(map[string]any{"success": true, "entries": []map[string]any{}})
	})
	mgr, sandboxID := newTestManager(t, mux)

	listTool := NewFileListTool(mgr)
	if _, err := listTool.Invoke(context.Background(), json.RawMessage(`{}`), execContext(sandboxID)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if gotPath != "." {
		t.Errorf("expected default path '.', got %q", gotPath)
	}
}
