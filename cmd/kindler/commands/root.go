// Package commands wires the kindler CLI: one subcommand per goal plus
// run report inspection.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath  string
	inventoryPath string
	dbPath        string
	verbose       bool
	jsonOutput    bool
)

// ExitError carries the process exit code out of command execution:
// 0 for a clean run, 1 for warnings or failures, 2 for configuration
// errors.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kindler",
		Short: "Kindler - goal-driven Kubernetes cluster provisioning",
		Long: `Kindler provisions a kubeadm-based Kubernetes cluster over SSH and
connects it to Azure Arc. Work is organized as goals resolved into
ordered steps per host group; tasks are idempotent and fan out across
hosts in parallel.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "kindler.yaml", "settings file path")
	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "hosts.yaml", "inventory file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "run history database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newArcCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newReportCommand())

	return rootCmd
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kindler.db"
	}
	return filepath.Join(home, ".kindler", "runs.db")
}
