package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestShellToolSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"stdout":    "hello\n",
			"stderr":    "",
			"exit_code": 0,
		})
	})
	mgr, sandboxID := newTestManager(t, mux)
	tool := NewShellTool(mgr)

	result, err := tool.Invoke(context.Background(), jsonBody(t, shellArgs{Command: "echo hello"}), execContext(sandboxID))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Output != "hello\n" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if result.Metadata["exit_code"].(float64) != 0 {
		t.Errorf("unexpected exit code %v", result.Metadata["exit_code"])
	}
}

func TestShellToolTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("a", shellOutputLimit+500)
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "stdout": long})
	})
	mgr, sandboxID := newTestManager(t, mux)
	tool := NewShellTool(mgr)

	result, err := tool.Invoke(context.Background(), jsonBody(t, shellArgs{Command: "produce-long-output"}), execContext(sandboxID))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.HasSuffix(result.Output, truncationMarker) {
		t.Fatalf("expected truncation marker, got suffix %q", result.Output[len(result.Output)-30:])
	}
	if len(result.Output) != shellOutputLimit+len(truncationMarker) {
		t.Errorf("unexpected truncated length %d", len(result.Output))
	}
	if !result.Metadata["stdout_truncated"].(bool) {
		t.Error("expected stdout_truncated=true in metadata")
	}
}

func TestShellToolSandboxFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mgr, sandboxID := newTestManager(t, mux)
	tool := NewShellTool(mgr)

	result, err := tool.Invoke(context.Background(), jsonBody(t, shellArgs{Command: "echo hi"}), execContext(sandboxID))
	if err != nil {
		t.Fatalf("invoke should not raise on a sandbox-side failure: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false on sandbox service error")
	}
}
