// Package main implements the taskd CLI for running planned generation work.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file, empty for defaults.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskd",
	Short: "Dependency-ordered generate/review/refine runner",
	Long: `taskd executes a plan of file-scoped work items in dependency order.
Each item is generated by an external command, reviewed by another, and
refined until it passes the quality gate or exhausts its iteration budget.
Progress is checkpointed so interrupted runs resume where they stopped.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML (default: built-in defaults)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
}
