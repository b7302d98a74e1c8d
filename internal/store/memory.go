package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taskforge/engine/pkg/models"
)

// MemoryStore keeps tasks in a process-local map, suitable for tests and
// single-process deployments. Every return and storage point round-trips
// through a JSON clone, so callers mutating a returned *models.Task never
// corrupt the stored copy.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	order []string
}

// NewMemoryStore builds an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) Create(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("store: task %s already exists", task.ID)
	}
	s.tasks[task.ID] = clone(task)
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	s.tasks[task.ID] = clone(task)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(task), nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, taskID string, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	task.Events = append(task.Events, event)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) {
		return nil, nil
	}
	end := len(s.order)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Task, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, clone(s.tasks[id]))
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(task *models.Task) *models.Task {
	data, err := json.Marshal(task)
	if err != nil {
		return task
	}
	var cloned models.Task
	if err := json.Unmarshal(data, &cloned); err != nil {
		return task
	}
	return &cloned
}
