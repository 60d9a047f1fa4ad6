package commands

import (
	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/gate"
)

func newStepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <deployment-id>",
		Short: "Show step completion for a deployment",
		Long: `Show every gated step and whether the deployment has satisfied it.
Incomplete steps list what is still missing, so this is the quickest
way to see why a deployment is held.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			completion, err := app.orch.StepStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(completion)
			}

			w := newTable()
			row(w, "STEP", "STATE", "DETAIL")
			for _, step := range gate.AllSteps() {
				c := completion[step]
				state := "pending"
				if c.Complete {
					state = "complete"
				}
				row(w, string(step), state, c.Reason)
			}
			return w.Flush()
		},
	}
	return cmd
}
