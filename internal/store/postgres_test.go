package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/taskforge/engine/pkg/models"
)

// newMockStore builds a PostgresStore around a sqlmock connection, having
// already satisfied prepare()'s five statements in the order it issues them.
// No live Postgres instance is available in this environment, so every test
// below drives the store through its prepared-statement SQL directly.
func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare("INSERT INTO tasks")
	mock.ExpectPrepare("UPDATE tasks SET goal")
	mock.ExpectPrepare("SELECT id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at\\s+FROM tasks WHERE id=\\$1")
	mock.ExpectPrepare("UPDATE tasks SET events")
	mock.ExpectPrepare("FROM tasks ORDER BY created_at")

	s := &PostgresStore{db: db}
	if err := s.prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return s, mock
}

func TestPostgresStoreCreate(t *testing.T) {
	s, mock := newMockStore(t)
	task := &models.Task{ID: "t1", Goal: "do it", Status: models.TaskQueued, CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, task.Goal, sqlmock.AnyArg(), task.Status, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), task.Error, task.CreatedAt, task.StartedAt, task.CompletedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGet(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "goal", "context", "status", "plan", "events", "artifacts", "error", "created_at", "started_at", "completed_at"}).
		AddRow("t1", "do it", []byte(`{}`), string(models.TaskSucceeded), []byte(`[]`), []byte(`[]`), []byte(`[]`), "", now, nil, nil)
	mock.ExpectQuery("FROM tasks WHERE id=\\$1").WithArgs("t1").WillReturnRows(rows)

	task, err := s.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.ID != "t1" || task.Status != models.TaskSucceeded {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM tasks WHERE id=\\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreUpdateNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	task := &models.Task{ID: "missing", Goal: "x", Status: models.TaskRunning, CreatedAt: time.Now()}

	mock.ExpectExec("UPDATE tasks SET goal").
		WithArgs(task.ID, task.Goal, sqlmock.AnyArg(), task.Status, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), task.Error, task.StartedAt, task.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Update(context.Background(), task); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreAppendEvent(t *testing.T) {
	s, mock := newMockStore(t)
	event := models.NewEvent(models.EventStepCompleted, map[string]any{"step_id": "s1"})

	mock.ExpectExec("UPDATE tasks SET events").
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AppendEvent(context.Background(), "t1", event); err != nil {
		t.Fatalf("append event: %v", err)
	}
}
