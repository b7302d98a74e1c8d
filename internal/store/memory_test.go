package store

import (
	"context"
	"testing"
	"time"

	"github.com/taskforge/engine/pkg/models"
)

func newTask(id string) *models.Task {
	return &models.Task{ID: id, Goal: "do the thing", Status: models.TaskQueued, CreatedAt: time.Now()}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != "do the thing" {
		t.Errorf("unexpected goal %q", got.Goal)
	}
}

func TestMemoryStoreCreateDuplicateFails(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, newTask("t1")); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func TestMemoryStoreGetUnknownReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateIsIsolatedFromCallerMutation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	task := newTask("t1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	task.Goal = "mutated after create"
	stored, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Goal == "mutated after create" {
		t.Fatal("store should have cloned the task on Create, not aliased it")
	}
}

func TestMemoryStoreAppendEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AppendEvent(ctx, "t1", models.NewEvent(models.EventTaskStarted, nil)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Events) != 1 || got.Events[0].Type != models.EventTaskStarted {
		t.Fatalf("expected 1 task_started event, got %+v", got.Events)
	}
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.Create(ctx, newTask(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	out, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(out))
	}
	if out[0].ID != "t1" || out[1].ID != "t2" {
		t.Fatalf("expected insertion order, got %s, %s", out[0].ID, out[1].ID)
	}
}
