// Package store persists Task records — plan, event log, artifacts — across
// process restarts. The event log appended here is ground truth for what
// happened to a task; the Orchestrator is the sole writer.
package store

import (
	"context"
	"errors"

	"github.com/taskforge/engine/pkg/models"
)

// ErrNotFound is returned when a task ID does not resolve.
var ErrNotFound = errors.New("store: task not found")

// Store persists and retrieves Task records.
type Store interface {
	// Create inserts a new task. The task's ID must not already exist.
	Create(ctx context.Context, task *models.Task) error

	// Update overwrites the task's full record, plan, events, and artifacts
	// included. The Orchestrator calls this after every mutating step.
	Update(ctx context.Context, task *models.Task) error

	// Get returns a task by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Task, error)

	// AppendEvent appends a single event to the task's history without
	// requiring the caller to round-trip the full task record.
	AppendEvent(ctx context.Context, taskID string, event *models.Event) error

	// List returns tasks in creation order, bounded by limit/offset.
	List(ctx context.Context, limit, offset int) ([]*models.Task, error)

	// Close releases any resources (connections, files) held by the store.
	Close() error
}
