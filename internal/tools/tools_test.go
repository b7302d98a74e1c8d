package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/pkg/models"
)

// fakeBackend reports a sandbox.Backend whose ports point at a local
// httptest server standing in for the shell/file services.
type fakeBackend struct {
	port int
}

func (b *fakeBackend) Start(ctx context.Context, id string, cfg sandbox.Config) (string, map[string]int, error) {
	return id, map[string]int{"shell": b.port, "file": b.port}, nil
}

func (b *fakeBackend) Stop(ctx context.Context, backingID string) error { return nil }

// newTestManager stands up an httptest server implementing the sandbox
// shell/file JSON contract and returns a Manager bound to it with one
// sandbox already created.
func newTestManager(t *testing.T, mux *http.ServeMux) (*sandbox.Manager, string) {
	t.Helper()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}

	mgr := sandbox.New(&fakeBackend{port: port}, sandbox.Config{
		HealthRetries:  3,
		HealthInterval: 10 * time.Millisecond,
		Lifetime:       time.Minute,
	}, nil)

	sb, err := mgr.Create(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	return mgr, sb.ID
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func execContext(sandboxID string) models.ExecContext {
	return models.ExecContext{TaskID: "task-1", StepID: "step-1", SandboxID: sandboxID, DefaultTimeout: 30}
}
