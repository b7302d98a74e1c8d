// Package models provides the durable domain types for the task
// orchestration engine: Task, Step, Event, Artifact, and Sandbox.
package models

import (
	"strconv"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
//
// Legal transitions form a DAG: Queued -> Running -> {Succeeded, Failed,
// Cancelled}. Once a Task reaches a terminal status no further mutation is
// allowed except through the owning Orchestrator while status is Running.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one no further transition can leave.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal edge in
// the status DAG.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskQueued:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskSucceeded || next == TaskFailed || next == TaskCancelled
	default:
		return false
	}
}

// Task is the durable record of one autonomously executed goal.
type Task struct {
	// ID is an opaque identifier, a UUID by convention.
	ID string `json:"id"`

	// Goal is the caller's free-text natural-language instruction.
	Goal string `json:"goal"`

	// Context is the caller-supplied key/value bag made available to the
	// Planner's prompt.
	Context map[string]any `json:"context,omitempty"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// Plan is the ordered list of Steps. Nil until the Planner has run.
	Plan []*Step `json:"plan,omitempty"`

	// Events is the append-only history of everything that happened to
	// this task, in the exact order the owning Orchestrator observed it.
	Events []*Event `json:"events,omitempty"`

	// Artifacts is produced by successful step executions.
	Artifacts []*Artifact `json:"artifacts,omitempty"`

	// Error is the terminal error text, set only when Status == TaskFailed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NextStepID returns a step ID that does not collide with any step already
// on the task's plan, formatted "step-N" to stay human-readable in logs and
// the CLI.
func (t *Task) NextStepID() string {
	existing := make(map[string]struct{}, len(t.Plan))
	for _, s := range t.Plan {
		existing[s.ID] = struct{}{}
	}
	for n := len(t.Plan) + 1; ; n++ {
		candidate := "step-" + strconv.Itoa(n)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}

// StepByID returns the step with the given ID, if present on the plan.
func (t *Task) StepByID(id string) *Step {
	for _, s := range t.Plan {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AllStepIDsUnique reports whether every step in the plan has a distinct ID,
// the task-level invariant from the data model (property 3).
func (t *Task) AllStepIDsUnique() bool {
	seen := make(map[string]struct{}, len(t.Plan))
	for _, s := range t.Plan {
		if _, ok := seen[s.ID]; ok {
			return false
		}
		seen[s.ID] = struct{}{}
	}
	return true
}
