package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVarsCommand() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "vars <deployment-id> KEY=VALUE [KEY=VALUE...]",
		Short: "Supply required environment variables",
		Long: `Supply values for the environment variables analysis detected. The
deployment stays parked at collecting_env until every required variable
has a non-blank value.`,
		Example: `  # Supply two variables and keep processing
  deployforge vars dep-id DATABASE_URL=postgres://db API_KEY=abc123 --process`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := make(map[string]string, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid variable %q, expected KEY=VALUE", pair)
				}
				vars[key] = value
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.orch.SupplyVariables(cmd.Context(), args[0], vars); err != nil {
				return err
			}
			fmt.Printf("Supplied %d variable(s)\n", len(vars))

			if process {
				result, err := app.orch.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Deployment now %s (%s)\n", result.Status, result.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&process, "process", false, "process the deployment after supplying variables")
	return cmd
}
