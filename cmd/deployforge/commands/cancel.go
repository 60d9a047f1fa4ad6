package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel a deployment",
		Long: `Cancel a deployment. Cancellation is terminal: the deployment never
transitions again. Deployments that are mid-rollout cannot be cancelled;
use rollback instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.orch.Cancel(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Printf("Deployment %s cancelled\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the deployment is being cancelled")
	return cmd
}
