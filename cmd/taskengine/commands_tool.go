package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/registry"
	"github.com/taskforge/engine/internal/sandbox"
	"github.com/taskforge/engine/internal/tools"
)

// buildToolCmd groups commands that inspect the tool registry without
// touching the task store.
func buildToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect the registered tool catalog",
	}
	cmd.AddCommand(buildToolListCmd())
	return cmd
}

func buildToolListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every tool available to the planner, with its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	return cmd
}

func runToolList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()
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
		return fmt.Errorf("register tools: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reg.Describe())
}
