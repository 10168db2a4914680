package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/checkpoint"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status <request>",
	Short: "Show checkpointed progress for a request",
	Long: `Status prints the persisted state of the run for a request: every
work item with its status, iteration count and failure reason if any.

Examples:
  taskd status "add login endpoint"`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Checkpoint.Enabled {
		return fmt.Errorf("checkpointing is disabled in config")
	}

	store, err := checkpoint.Open(cfg.Checkpoint.Path, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := store.LoadRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no run found for request %q", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (updated %s)\n", state.RunID, state.UpdatedAt.Format("2006-01-02 15:04:05"))
	for _, item := range state.Items {
		line := fmt.Sprintf("  %-30s %s", item.FilePath, item.Status)
		if item.FailureReason != engine.ReasonNone {
			line += fmt.Sprintf(" (%s)", item.FailureReason)
		}
		if item.IterationCount > 0 {
			line += fmt.Sprintf(" iterations=%d", item.IterationCount)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
