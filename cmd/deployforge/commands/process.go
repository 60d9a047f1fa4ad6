package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <deployment-id>",
		Short: "Advance a deployment until it needs input",
		Long: `Run a deployment forward through automatic transitions until it parks
at a status that needs external input, an approval decision, operator
remediation, or a terminal status.

Processing is idempotent: re-running a parked deployment leaves it where
it is and reports why.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.orch.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}

			fmt.Printf("Deployment %s: %s -> %s (%s, %d transitions)\n",
				result.DeploymentID, result.StartStatus, result.Status, result.Outcome, result.Hops)
			if result.BlockingStep != "" {
				fmt.Printf("  blocked on step: %s\n", result.BlockingStep)
			}
			if result.Reason != "" {
				fmt.Printf("  %s\n", result.Reason)
			}
			if result.CorrelationID != "" {
				fmt.Printf("  correlation id: %s\n", result.CorrelationID)
			}
			return nil
		},
	}
	return cmd
}
