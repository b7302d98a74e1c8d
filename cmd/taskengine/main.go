// Command taskengine runs the autonomous task orchestration engine: a
// server that drains queued tasks through the Worker Loop, and a set of
// operator commands for submitting and inspecting tasks directly against
// the configured store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskengine",
		Short: "Autonomous task orchestration engine",
		Long: `taskengine plans, sandboxes, executes, and critiques free-text goals
without a human in the loop for each step.

It pulls queued tasks off a durable store, spins up an isolated sandbox per
task, asks an LLM planner to produce a step plan, executes each step against
a registered tool, and optionally runs an LLM critic between steps to splice
in corrective steps.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTaskCmd(),
		buildToolCmd(),
	)

	return rootCmd
}
