package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/engine"
)

func newCreateCommand() *cobra.Command {
	var (
		name        string
		repository  string
		environment string
		process     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new deployment",
		Long: `Create a new deployment for a source repository.

The deployment starts in the created status. Use --process to immediately
run it forward until it needs input.`,
		Example: `  # Create a staging deployment
  deployforge create --name web --repo github.com/acme/web --env staging

  # Create and start processing in one step
  deployforge create --name web --repo github.com/acme/web --env production --process`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			dep, err := app.orch.CreateDeployment(cmd.Context(), engine.CreateSpec{
				Name:        name,
				Repository:  repository,
				Environment: environment,
			})
			if err != nil {
				return err
			}

			if process {
				result, err := app.orch.Process(cmd.Context(), dep.ID)
				if err != nil {
					return err
				}
				dep, err = app.orch.GetDeployment(cmd.Context(), dep.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{"deployment": dep, "process": result})
				}
				fmt.Printf("Created deployment %s, now %s (%s)\n", dep.ID, dep.Status, result.Outcome)
				if result.Reason != "" {
					fmt.Printf("  %s\n", result.Reason)
				}
				return nil
			}

			if jsonOutput {
				return printJSON(dep)
			}
			fmt.Printf("Created deployment %s\n", dep.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "deployment name")
	cmd.Flags().StringVar(&repository, "repo", "", "source repository")
	cmd.Flags().StringVar(&environment, "env", "staging", "target environment")
	cmd.Flags().BoolVar(&process, "process", false, "process the deployment after creating it")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}
