package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/gate"
)

func newStatusCommand() *cobra.Command {
	var steps bool

	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment's current state",
		Example: `  # Current status and resources
  deployforge status dep-id

  # Include per-step completion
  deployforge status dep-id --steps`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			dep, err := app.orch.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var completion map[gate.Step]*gate.Completion
			if steps {
				completion, err = app.orch.StepStatus(cmd.Context(), dep.ID)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				out := map[string]interface{}{"deployment": dep}
				if completion != nil {
					out["steps"] = completion
				}
				return printJSON(out)
			}

			fmt.Printf("Deployment:  %s\n", dep.ID)
			fmt.Printf("Name:        %s\n", dep.Name)
			fmt.Printf("Repository:  %s\n", dep.Repository)
			fmt.Printf("Environment: %s\n", dep.Environment)
			fmt.Printf("Status:      %s\n", dep.Status)
			if dep.RequiredApprovals > 0 {
				fmt.Printf("Approvals:   %d required\n", dep.RequiredApprovals)
			}
			if len(dep.Resources) > 0 {
				fmt.Println("Resources:")
				for _, r := range dep.Resources {
					fmt.Printf("  %s (%s): %s\n", r.Name, r.Type, r.Status)
				}
			}

			if completion != nil {
				fmt.Println("Steps:")
				w := newTable()
				for _, step := range gate.AllSteps() {
					c := completion[step]
					state := "pending"
					if c.Complete {
						state = "complete"
					}
					row(w, "  "+string(step), state, c.Reason)
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&steps, "steps", false, "include per-step completion")
	return cmd
}
