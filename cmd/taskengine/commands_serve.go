package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/taskforge/engine/internal/config"
)

// buildServeCmd creates the "serve" command that runs the Worker Loop until
// signalled to stop.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Worker Loop, draining queued tasks until stopped",
		Long: `Start the task engine's Worker Loop.

The server will:
1. Load configuration from the specified file
2. Open the configured task store
3. Wire the sandbox manager, LLM client, planner, executor, and critic
4. Poll for queued tasks and dispatch each to the Orchestrator with bounded
   concurrency
5. Optionally serve Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM: in-flight tasks are allowed
to finish before the process exits.`,
		Example: `  # Start with default config
  taskengine serve

  # Start with a specific config file
  taskengine serve --config /etc/taskengine/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Observability.LogLevel)}))
	slog.SetDefault(logger)

	comps, err := buildAll(cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer comps.tasks.Close()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := comps.shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
		go func() {
			logger.Info("metrics server listening", "port", cfg.Observability.MetricsPort)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	logger.Info("worker loop starting", "config", configPath)
	comps.worker.Run(ctx)
	logger.Info("worker loop stopped")
	return nil
}

func logLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
