package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized collection of Prometheus instruments covering the
// orchestration pipeline: task lifecycle, LLM calls, tool executions, and
// sandbox lifecycle.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.ToolExecutionDuration.WithLabelValues("shell").Observe(elapsed.Seconds())
type Metrics struct {
	// TaskCounter tracks tasks by terminal status.
	// Labels: status (succeeded|failed|cancelled)
	TaskCounter *prometheus.CounterVec

	// TaskDuration measures end-to-end task wall time in seconds.
	TaskDuration prometheus.Histogram

	// StepCounter counts step executions by tool and outcome.
	// Labels: tool, status (completed|failed)
	StepCounter *prometheus.CounterVec

	// CorrectionCounter counts critic-issued corrective splices.
	CorrectionCounter prometheus.Counter

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool name and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// SandboxCounter counts sandbox lifecycle events.
	// Labels: event (created|destroyed|create_failed)
	SandboxCounter *prometheus.CounterVec

	// ActiveSandboxes is a gauge of currently running sandboxes.
	ActiveSandboxes prometheus.Gauge

	// ActiveTasks is a gauge of tasks currently being orchestrated.
	ActiveTasks prometheus.Gauge

	// QueueDepth is a gauge of task IDs waiting to be picked up by a worker.
	QueueDepth prometheus.Gauge
}

// NewMetrics registers every instrument against the default Prometheus
// registry and returns the handle used to record observations.
func NewMetrics() *Metrics {
	return &Metrics{
		TaskCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_tasks_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"status"},
		),

		TaskDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskengine_task_duration_seconds",
				Help:    "Wall-clock duration of a task from acquisition to terminal status",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),

		StepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_steps_total",
				Help: "Total number of executed steps by tool and status",
			},
			[]string{"tool", "status"},
		),

		CorrectionCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskengine_corrections_total",
				Help: "Total number of corrective step sequences spliced in by the critic",
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskengine_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskengine_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		SandboxCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskengine_sandbox_events_total",
				Help: "Total number of sandbox lifecycle events by kind",
			},
			[]string{"event"},
		),

		ActiveSandboxes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskengine_active_sandboxes",
				Help: "Current number of running sandboxes",
			},
		),

		ActiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskengine_active_tasks",
				Help: "Current number of tasks being orchestrated",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskengine_queue_depth",
				Help: "Current number of queued task IDs awaiting a worker",
			},
		),
	}
}

// RecordLLMRequest records one completed LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records one completed tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordStep records one completed step, mirroring RecordToolExecution but
// keyed to the orchestration-level outcome rather than the raw tool result.
func (m *Metrics) RecordStep(tool, status string) {
	m.StepCounter.WithLabelValues(tool, status).Inc()
}

// RecordTask records one task reaching a terminal status.
func (m *Metrics) RecordTask(status string, durationSeconds float64) {
	m.TaskCounter.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(durationSeconds)
}

// RecordSandboxEvent records a sandbox lifecycle transition.
func (m *Metrics) RecordSandboxEvent(event string) {
	m.SandboxCounter.WithLabelValues(event).Inc()
}
