package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskd/internal/engine"
	"github.com/fyrsmithlabs/taskd/internal/scheduler"
)

// planFile is the on-disk plan format consumed by `taskd run --plan`.
type planFile struct {
	Items []planItem `json:"items"`
}

// planItem mirrors the immutable planner-owned fields of a work item.
type planItem struct {
	FilePath    string   `json:"file_path"`
	FileStatus  string   `json:"file_status"`
	Mode        string   `json:"mode"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	DependsOn   []int    `json:"depends_on,omitempty"`
}

// loadPlan reads and decodes a plan file into engine work items.
func loadPlan(path string) ([]engine.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if len(pf.Items) == 0 {
		return nil, fmt.Errorf("plan file %s contains no items", path)
	}

	items := make([]engine.WorkItem, len(pf.Items))
	for i, pi := range pf.Items {
		if pi.FilePath == "" {
			return nil, fmt.Errorf("plan item %d has no file_path", i)
		}
		status := engine.FileStatus(pi.FileStatus)
		if status == "" {
			status = engine.FileNew
		}
		if status != engine.FileNew && status != engine.FileExisting {
			return nil, fmt.Errorf("plan item %d has invalid file_status %q", i, pi.FileStatus)
		}
		items[i] = engine.WorkItem{
			FilePath:      pi.FilePath,
			FileStatus:    status,
			Mode:          pi.Mode,
			Description:   pi.Description,
			Tags:          pi.Tags,
			DependencyIDs: pi.DependsOn,
			Status:        engine.ItemPending,
		}
	}
	return items, nil
}

// filePlanner serves a pre-authored plan, ignoring the request text.
type filePlanner struct {
	items []engine.WorkItem
}

func (p *filePlanner) Plan(ctx context.Context, request string) ([]engine.WorkItem, error) {
	out := make([]engine.WorkItem, len(p.items))
	copy(out, p.items)
	return out, nil
}

var validatePlanPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a plan file and print its execution batches",
	Long: `Validate checks a plan file for cycles, self-dependencies and
out-of-range dependency references, then prints the dependency-ordered
batches the engine would execute.

Examples:
  taskd validate --plan plan.json`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validatePlanPath, "plan", "", "path to plan JSON file (required)")
	_ = validateCmd.MarkFlagRequired("plan")
}

func runValidate(cmd *cobra.Command, args []string) error {
	items, err := loadPlan(validatePlanPath)
	if err != nil {
		return err
	}

	deps := make([][]int, len(items))
	for i, it := range items {
		deps[i] = it.DependencyIDs
	}

	batches, err := scheduler.Batches(deps)
	if err != nil {
		return fmt.Errorf("plan is invalid: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Plan OK: %d items in %d batches\n", len(items), len(batches))
	for n, batch := range batches {
		paths := make([]string, len(batch))
		for j, idx := range batch {
			paths[j] = items[idx].FilePath
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  batch %d: %s\n", n+1, strings.Join(paths, ", "))
	}
	return nil
}
