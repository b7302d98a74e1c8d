package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskforge/engine/pkg/models"
)

// SQLiteStore is the single-file, zero-dependency backend for local
// development and tests that want real SQL semantics without a Postgres
// instance. Schema mirrors PostgresStore's, with JSON columns stored as
// TEXT and timestamps as RFC3339 strings — modernc.org/sqlite has no
// native JSONB/TIMESTAMPTZ type to lean on.
type SQLiteStore struct {
	db *sql.DB

	stmtInsert      *sql.Stmt
	stmtUpdate      *sql.Stmt
	stmtGet         *sql.Stmt
	stmtAppendEvent *sql.Stmt
	stmtList        *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	context      TEXT,
	status       TEXT NOT NULL,
	plan         TEXT,
	events       TEXT,
	artifacts    TEXT,
	error        TEXT,
	created_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT
)`

// NewSQLiteStore opens the database file at path (or an in-memory database
// for path == ":memory:") and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under load

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepare() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO tasks (id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE tasks SET goal=?, context=?, status=?, plan=?, events=?, artifacts=?, error=?,
			started_at=?, completed_at=?
		WHERE id=?`)
	if err != nil {
		return fmt.Errorf("store: prepare update: %w", err)
	}
	s.stmtGet, err = s.db.Prepare(`
		SELECT id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at
		FROM tasks WHERE id=?`)
	if err != nil {
		return fmt.Errorf("store: prepare get: %w", err)
	}
	s.stmtAppendEvent, err = s.db.Prepare(`SELECT events FROM tasks WHERE id=?`)
	if err != nil {
		return fmt.Errorf("store: prepare append event select: %w", err)
	}
	s.stmtList, err = s.db.Prepare(`
		SELECT id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at
		FROM tasks ORDER BY created_at ASC LIMIT ? OFFSET ?`)
	if err != nil {
		return fmt.Errorf("store: prepare list: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, task *models.Task) error {
	ctxJSON, plan, events, artifacts, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	_, err = s.stmtInsert.ExecContext(ctx, task.ID, task.Goal, string(ctxJSON), string(task.Status),
		string(plan), string(events), string(artifacts), task.Error,
		formatTime(task.CreatedAt), formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt))
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, task *models.Task) error {
	ctxJSON, plan, events, artifacts, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	res, err := s.stmtUpdate.ExecContext(ctx, task.Goal, string(ctxJSON), string(task.Status),
		string(plan), string(events), string(artifacts), task.Error,
		formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt), task.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.scanTaskRow(s.stmtGet.QueryRowContext(ctx, id))
}

// AppendEvent reads, appends, and writes back the events column under the
// database's single-writer serialization — sqlite has no JSON-array
// concatenation operator to do this in one statement the way Postgres's
// jsonb `||` does.
func (s *SQLiteStore) AppendEvent(ctx context.Context, taskID string, event *models.Event) error {
	var eventsJSON string
	if err := s.stmtAppendEvent.QueryRowContext(ctx, taskID).Scan(&eventsJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	var events []*models.Event
	if eventsJSON != "" {
		if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
			return err
		}
	}
	events = append(events, event)

	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET events=? WHERE id=?`, string(data), taskID)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtList.QueryContext(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := s.scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) scanTaskRow(row rowScanner) (*models.Task, error) {
	var (
		task                             models.Task
		ctxJSON, plan, events, artifacts string
		createdAt                        string
		startedAt, completedAt           sql.NullString
	)
	err := row.Scan(&task.ID, &task.Goal, &ctxJSON, &task.Status, &plan, &events, &artifacts,
		&task.Error, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := unmarshalTaskColumns(&task, []byte(ctxJSON), []byte(plan), []byte(events), []byte(artifacts)); err != nil {
		return nil, err
	}
	task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	task.StartedAt = parseTimePtr(startedAt)
	task.CompletedAt = parseTimePtr(completedAt)
	return &task, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
