package store

import (
	"context"
	"testing"

	"github.com/taskforge/engine/pkg/models"
)

func TestSQLiteStoreCreateGetAppendEvent(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	task := newTask("t1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != task.Goal {
		t.Errorf("unexpected goal %q", got.Goal)
	}

	if err := s.AppendEvent(ctx, "t1", models.NewEvent(models.EventTaskStarted, nil)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	got, err = s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get after append: %v", err)
	}
	if len(got.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got.Events))
	}
}

func TestSQLiteStoreGetUnknownReturnsNotFound(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer s.Close()

	_, err = s.Get(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
