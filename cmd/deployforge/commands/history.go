package commands

import (
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <deployment-id>",
		Short: "Show a deployment's transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			history, err := app.orch.GetHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(history)
			}

			w := newTable()
			row(w, "TIME", "FROM", "TO", "DETAIL")
			for _, rec := range history {
				detail := ""
				if reason, ok := rec.Metadata["reason"]; ok {
					detail = reason
				} else if msg, ok := rec.Metadata["error"]; ok {
					detail = msg
				}
				row(w, rec.Timestamp.Format("2006-01-02 15:04:05"), rec.FromStatus, rec.Status, detail)
			}
			return w.Flush()
		},
	}
	return cmd
}
