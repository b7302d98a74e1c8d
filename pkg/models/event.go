package models

import "time"

// EventType is a closed set of event tags appended to a task's history.
// The Orchestrator is the sole writer; the set matches the transitions it
// drives a task through (§4.7).
type EventType string

const (
	EventTaskStarted            EventType = "task_started"
	EventSandboxCreated         EventType = "sandbox_created"
	EventPlanningStarted        EventType = "planning_started"
	EventPlanGenerated          EventType = "plan_generated"
	EventExecutionStarted       EventType = "execution_started"
	EventStepStarted            EventType = "step_started"
	EventStepCompleted          EventType = "step_completed"
	EventCriticEvaluation       EventType = "critic_evaluation"
	EventCorrectionApplied      EventType = "correction_applied"
	EventExecutionStopped       EventType = "execution_stopped"
	EventTaskSucceeded          EventType = "task_succeeded"
	EventTaskCompletedWithFails EventType = "task_completed_with_failures"
	EventTaskFailed             EventType = "task_failed"
	EventTaskCancelled          EventType = "task_cancelled"
	EventOrchestrationFailed    EventType = "orchestration_failed"
	EventSandboxDestroyed       EventType = "sandbox_destroyed"
)

// Event is one timestamped, typed entry in a task's append-only history.
// Per-task total order equals wall-clock order as observed by the owning
// Orchestrator; the event log, not the per-step Result, is ground truth for
// what happened to a task.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(typ EventType, data map[string]any) *Event {
	return &Event{Timestamp: time.Now(), Type: typ, Data: data}
}
