package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/pkg/models"
)

// buildTaskCmd groups the operator commands that act on the task store
// directly, bypassing the Orchestrator.
func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and inspect tasks",
	}
	cmd.AddCommand(buildTaskSubmitCmd(), buildTaskGetCmd(), buildTaskListCmd(), buildTaskCancelCmd())
	return cmd
}

func buildTaskSubmitCmd() *cobra.Command {
	var configPath, goal, contextJSON string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new goal as a queued task",
		Example: `  taskengine task submit --goal "summarize the repository's README"
  taskengine task submit --goal "run the test suite" --context '{"repo":"/work/app"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskSubmit(cmd, configPath, goal, contextJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&goal, "goal", "", "Free-text goal for the task (required)")
	cmd.Flags().StringVar(&contextJSON, "context", "{}", "JSON object made available to the planner's prompt")
	cmd.MarkFlagRequired("goal")
	return cmd
}

func runTaskSubmit(cmd *cobra.Command, configPath, goal, contextJSON string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	taskCtx := map[string]any{}
	if err := json.Unmarshal([]byte(contextJSON), &taskCtx); err != nil {
		return fmt.Errorf("parse --context: %w", err)
	}

	tasks, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer tasks.Close()

	task := &models.Task{
		ID:        uuid.NewString(),
		Goal:      goal,
		Context:   taskCtx,
		Status:    models.TaskQueued,
		CreatedAt: time.Now(),
	}
	if err := tasks.Create(cmd.Context(), task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), task.ID)
	return nil
}

func buildTaskGetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Print a task's full record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskGet(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	return cmd
}

func runTaskGet(cmd *cobra.Command, configPath, taskID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tasks, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer tasks.Close()

	task, err := tasks.Get(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(task)
}

func buildTaskListCmd() *cobra.Command {
	var configPath string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(cmd, configPath, limit, offset)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum tasks to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}

func runTaskList(cmd *cobra.Command, configPath string, limit, offset int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tasks, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer tasks.Close()

	list, err := tasks.List(cmd.Context(), limit, offset)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range list {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.CreatedAt.Format(time.RFC3339), t.Goal)
	}
	return nil
}

func buildTaskCancelCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Mark a queued or running task cancelled",
		Long: `Cancel short-circuits the Worker Loop's retry behavior: a task already
dispatched to the Orchestrator keeps running to its current step's
completion, but the Worker Loop will not retry it, and it will not be
dispatched again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCancel(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskengine.yaml", "Path to YAML configuration file")
	return cmd
}

func runTaskCancel(cmd *cobra.Command, configPath, taskID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tasks, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer tasks.Close()

	task, err := tasks.Get(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if !task.Status.CanTransitionTo(models.TaskCancelled) {
		return fmt.Errorf("task %s is %s, cannot be cancelled", taskID, task.Status)
	}
	task.Status = models.TaskCancelled
	now := time.Now()
	task.CompletedAt = &now
	if err := tasks.Update(cmd.Context(), task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "task %s cancelled\n", taskID)
	return nil
}
