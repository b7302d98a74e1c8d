package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/taskforge/engine/pkg/models"
)

// PostgresStore persists tasks as rows with JSONB columns for the plan,
// event log, and artifacts — the task record is small and always read or
// written whole, so a normalized per-step schema would buy nothing a
// single JSONB blob per column doesn't already give.
type PostgresStore struct {
	db *sql.DB

	stmtInsert       *sql.Stmt
	stmtUpdate       *sql.Stmt
	stmtGet          *sql.Stmt
	stmtAppendEvent  *sql.Stmt
	stmtList         *sql.Stmt
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens dsn, verifies connectivity, ensures the schema
// exists, and prepares every statement for reuse.
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	context      JSONB,
	status       TEXT NOT NULL,
	plan         JSONB,
	events       JSONB,
	artifacts    JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
)`

func (s *PostgresStore) prepare() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO tasks (id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE tasks SET goal=$2, context=$3, status=$4, plan=$5, events=$6, artifacts=$7, error=$8,
			started_at=$9, completed_at=$10
		WHERE id=$1`)
	if err != nil {
		return fmt.Errorf("store: prepare update: %w", err)
	}
	s.stmtGet, err = s.db.Prepare(`
		SELECT id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at
		FROM tasks WHERE id=$1`)
	if err != nil {
		return fmt.Errorf("store: prepare get: %w", err)
	}
	s.stmtAppendEvent, err = s.db.Prepare(`
		UPDATE tasks SET events = COALESCE(events, '[]'::jsonb) || $2::jsonb WHERE id=$1`)
	if err != nil {
		return fmt.Errorf("store: prepare append event: %w", err)
	}
	s.stmtList, err = s.db.Prepare(`
		SELECT id, goal, context, status, plan, events, artifacts, error, created_at, started_at, completed_at
		FROM tasks ORDER BY created_at ASC LIMIT $1 OFFSET $2`)
	if err != nil {
		return fmt.Errorf("store: prepare list: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, task *models.Task) error {
	ctxJSON, plan, events, artifacts, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	_, err = s.stmtInsert.ExecContext(ctx, task.ID, task.Goal, ctxJSON, task.Status,
		plan, events, artifacts, task.Error, task.CreatedAt, task.StartedAt, task.CompletedAt)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, task *models.Task) error {
	ctxJSON, plan, events, artifacts, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	res, err := s.stmtUpdate.ExecContext(ctx, task.ID, task.Goal, ctxJSON, task.Status,
		plan, events, artifacts, task.Error, task.StartedAt, task.CompletedAt)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Task, error) {
	return scanTask(s.stmtGet.QueryRowContext(ctx, id))
}

func (s *PostgresStore) AppendEvent(ctx context.Context, taskID string, event *models.Event) error {
	data, err := json.Marshal([]*models.Event{event})
	if err != nil {
		return err
	}
	res, err := s.stmtAppendEvent.ExecContext(ctx, taskID, data)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
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
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows behind the one method both
// CockroachStore-style callers need.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task                            models.Task
		ctxJSON, plan, events, artifacts []byte
	)
	err := row.Scan(&task.ID, &task.Goal, &ctxJSON, &task.Status, &plan, &events, &artifacts,
		&task.Error, &task.CreatedAt, &task.StartedAt, &task.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalTaskColumns(&task, ctxJSON, plan, events, artifacts); err != nil {
		return nil, err
	}
	return &task, nil
}

func marshalTaskColumns(task *models.Task) (ctxJSON, plan, events, artifacts []byte, err error) {
	if ctxJSON, err = json.Marshal(task.Context); err != nil {
		return
	}
	if plan, err = json.Marshal(task.Plan); err != nil {
		return
	}
	if events, err = json.Marshal(task.Events); err != nil {
		return
	}
	if artifacts, err = json.Marshal(task.Artifacts); err != nil {
		return
	}
	return
}

func unmarshalTaskColumns(task *models.Task, ctxJSON, plan, events, artifacts []byte) error {
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &task.Context); err != nil {
			return err
		}
	}
	if len(plan) > 0 {
		if err := json.Unmarshal(plan, &task.Plan); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &task.Events); err != nil {
			return err
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &task.Artifacts); err != nil {
			return err
		}
	}
	return nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
