package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployforge",
		Short: "DeployForge - Deployment Lifecycle Orchestration Engine",
		Long: `DeployForge takes a project from source repository to provisioned
infrastructure through a durable, gated lifecycle.

Features:
  - Durable state machine with append-only transition history
  - Step-completion gating (variables, credentials, generated files)
  - Sandboxed credential validation (builtin, Starlark, WASM testers)
  - Remote tool servers with local fallbacks
  - Multi-approver rollout workflow with policy enforcement`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newStepsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newVarsCommand())
	rootCmd.AddCommand(newCredsCommand())
	rootCmd.AddCommand(newApprovalsCommand())
	rootCmd.AddCommand(newToolsCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
