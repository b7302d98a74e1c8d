package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/engine/internal/artifacts"
	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/critic"
	"github.com/taskforge/engine/internal/executor"
	"github.com/taskforge/engine/internal/llm"
	"github.com/taskforge/engine/internal/observability"
	"github.com/taskforge/engine/internal/orchestrator"
	"github.com/taskforge/engine/internal/planner"
	"github.com/taskforge/engine/internal/registry"
	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/internal/store"
	"github.com/taskforge/engine/internal/tools"
	"github.com/taskforge/engine/internal/worker"
)

// components holds every wired-together piece the CLI's commands reach
// into: the task store always, the rest only when the command needs them.
type components struct {
	tasks     store.Store
	reg       *registry.Registry
	sandboxes *sandbox.Manager
	llmClient llm.Client
	orch      *orchestrator.Orchestrator
	worker    *worker.Worker

	// shutdownTracer flushes and closes the tracer's exporter. It is a
	// no-op when tracing is disabled. Callers of buildAll must defer it.
	shutdownTracer func(context.Context) error
}

// buildObservability wires a Metrics instrument set (always) and a Tracer
// (no-op unless cfg.Observability.TracingEnabled names an OTLP endpoint).
func buildObservability(cfg *config.Config) (*observability.Metrics, *observability.Tracer, func(context.Context) error) {
	metrics := observability.NewMetrics()

	endpoint := ""
	if cfg.Observability.TracingEnabled {
		endpoint = cfg.Observability.OTLPEndpoint
	}
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    endpoint,
	})
	return metrics, tracer, shutdown
}

// buildStore opens just the task store, for commands (get/list/cancel)
// that don't need the full orchestration stack.
func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN, store.DefaultPostgresConfig())
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.DSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildLLMClient selects the Anthropic or OpenAI backend per config.
func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
			Timeout:      cfg.LLM.Timeout,
		})
	default:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
			Timeout:      cfg.LLM.Timeout,
		})
	}
}

// buildSandboxBackend selects the Docker or Firecracker backend per config.
func buildSandboxBackend(cfg *config.Config) sandbox.Backend {
	if cfg.Sandbox.Backend == "firecracker" {
		fc := cfg.Sandbox.Firecracker
		return sandbox.NewFirecrackerBackend(fc.KernelPath, fc.RootFSImage, fc.VCPUs, fc.MemMB, fc.SocketDir)
	}
	return sandbox.NewDockerBackend()
}

// buildAll wires every component needed to run the Worker Loop: registry,
// tool adapters, sandbox manager, LLM client, planner, critic, orchestrator,
// store, and worker.
func buildAll(cfg *config.Config, logger *slog.Logger) (*components, error) {
	tasks, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	reg := registry.New(logger)

	sandboxes := sandbox.New(buildSandboxBackend(cfg), sandbox.Config{
		Image:          cfg.Sandbox.Image,
		CPULimit:       cfg.Sandbox.CPULimit,
		MemoryLimitMB:  cfg.Sandbox.MemoryLimitMB,
		WorkSizeMB:     cfg.Sandbox.WorkSizeMB,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		Lifetime:       cfg.Sandbox.Lifetime,
		HealthRetries:  cfg.Sandbox.HealthRetries,
		HealthInterval: cfg.Sandbox.HealthInterval,
	}, logger)

	if err := tools.RegisterAll(reg, sandboxes); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	pl := planner.New(llmClient, planner.WithModel(cfg.LLM.DefaultModel))
	cr := critic.New(llmClient,
		critic.WithModel(cfg.LLM.DefaultModel),
		critic.WithConfidenceThreshold(cfg.Critic.ConfidenceThreshold))

	exec := executor.New(reg)

	artifactStore, err := artifacts.NewLocalStore(cfg.Artifacts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("build artifact store: %w", err)
	}
	redaction, err := artifacts.NewRedactionPolicy(artifacts.RedactionConfig{
		Enabled:          cfg.Artifacts.RedactionEnabled,
		Types:            cfg.Artifacts.RedactedTypes,
		FilenamePatterns: cfg.Artifacts.RedactedFilenames,
	})
	if err != nil {
		return nil, fmt.Errorf("build redaction policy: %w", err)
	}

	metrics, tracer, shutdownTracer := buildObservability(cfg)

	orch := orchestrator.New(sandboxes, pl, exec, cr, reg, tasks, orchestrator.Config{
		CriticEnabled:      cfg.Critic.Enabled,
		MaxCorrectionDepth: cfg.Critic.MaxCorrectionDepth,
		ArtifactStore:      artifactStore,
		Redaction:          redaction,
		Metrics:            metrics,
		Tracer:             tracer,
	}, logger)

	q := worker.NewStoreQueue(tasks, 100)
	w := worker.New(q, tasks, orch, worker.Config{
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		PollInterval:   cfg.Worker.PollInterval,
		MaxRetries:     cfg.Worker.MaxRetries,
	}, logger)

	return &components{
		tasks:          tasks,
		reg:            reg,
		sandboxes:      sandboxes,
		llmClient:      llmClient,
		orch:           orch,
		worker:         w,
		shutdownTracer: shutdownTracer,
	}, nil
}
