package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/engine"
)

func newListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Example: `  # All deployments
  deployforge list

  # Only deployments awaiting approval
  deployforge list --status pending_approval`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			var filter *engine.DeploymentStatus
			if status != "" {
				s := engine.DeploymentStatus(status)
				filter = &s
			}
			deps, err := app.orch.ListDeployments(cmd.Context(), filter, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(deps)
			}

			w := newTable()
			row(w, "ID", "NAME", "ENVIRONMENT", "STATUS", "UPDATED")
			for _, dep := range deps {
				row(w, dep.ID, dep.Name, dep.Environment, dep.Status,
					dep.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum deployments to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	return cmd
}
