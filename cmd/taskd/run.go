package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskd/internal/checkpoint"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/engine"
	"github.com/fyrsmithlabs/taskd/internal/logging"
	"github.com/fyrsmithlabs/taskd/internal/retrieval"
)

var (
	runPlanPath    string
	runGenerateCmd string
	runReviewCmd   string
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Execute a plan of work items for a request",
	Long: `Run executes every work item in the plan in dependency order.

The generate command receives each prompt on stdin and prints the candidate
on stdout. The review command receives the request and the candidate on
stdin and prints a JSON judgment ({"score": 0.8, "feedback": "..."}).

If a previous run for the same request was interrupted, completed items are
skipped and execution resumes at the first unfinished item.

Examples:
  taskd run --plan plan.json \
    --generate-cmd './generate.sh' \
    --review-cmd './review.sh' \
    "add login endpoint"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "path to plan JSON file (required)")
	runCmd.Flags().StringVar(&runGenerateCmd, "generate-cmd", "", "shell command producing candidates (required)")
	runCmd.Flags().StringVar(&runReviewCmd, "review-cmd", "", "shell command judging candidates (required)")
	_ = runCmd.MarkFlagRequired("plan")
	_ = runCmd.MarkFlagRequired("generate-cmd")
	_ = runCmd.MarkFlagRequired("review-cmd")
}

func runRun(cmd *cobra.Command, args []string) error {
	request := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	items, err := loadPlan(runPlanPath)
	if err != nil {
		return err
	}

	store := contextstore.New(logger)

	// Semantic scoring needs an embedding model, which the exec transport
	// does not provide. Fall back to tag scoring.
	if cfg.Retrieval.Semantic {
		logger.Warn("semantic retrieval configured but no embedder is available, using tag scoring only")
	}
	retriever, err := retrieval.New(store, nil, logger)
	if err != nil {
		return err
	}

	engineCfg := cfg.Engine
	if cfg.Retrieval.MaxResults < engineCfg.MaxContextItems {
		engineCfg.MaxContextItems = cfg.Retrieval.MaxResults
	}

	controller, err := engine.NewIterationController(
		&execGenerator{command: runGenerateCmd},
		&execReviewer{command: runReviewCmd},
		retriever,
		store,
		engineCfg,
		logger,
	)
	if err != nil {
		return err
	}

	var ckpt engine.Checkpointer
	if cfg.Checkpoint.Enabled {
		cs, err := checkpoint.Open(cfg.Checkpoint.Path, logger)
		if err != nil {
			return err
		}
		defer cs.Close()
		ckpt = cs
	}

	orch, err := engine.NewOrchestrator(&filePlanner{items: items}, controller, store, ckpt, engineCfg, logger)
	if err != nil {
		return err
	}

	summary, err := orch.Run(cmd.Context(), request)
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", summary.Failed, len(summary.Items))
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary *engine.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %d succeeded, %d failed (%s)\n",
		summary.RunID, summary.Succeeded, summary.Failed, summary.Duration.Round(time.Millisecond))
	for _, item := range summary.Items {
		line := fmt.Sprintf("  %-30s %s", item.FilePath, item.Status)
		if item.Reason != engine.ReasonNone {
			line += fmt.Sprintf(" (%s)", item.Reason)
		}
		if item.Iterations > 0 {
			line += fmt.Sprintf(" iterations=%d score=%.2f", item.Iterations, item.LastScore)
		}
		fmt.Fprintln(out, line)
	}
}
