package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApprovalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage approval rounds",
	}
	cmd.AddCommand(newApprovalsListCommand())
	cmd.AddCommand(newApproveCommand())
	cmd.AddCommand(newRejectCommand())
	cmd.AddCommand(newApprovalsExpireCommand())
	return cmd
}

func newApprovalsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			pending, err := app.approvals.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(pending)
			}

			w := newTable()
			row(w, "REQUEST", "DEPLOYMENT", "ENVIRONMENT", "REQUIRED", "REQUESTED")
			for _, rec := range pending {
				row(w, rec.ID, rec.DeploymentID, rec.Environment, rec.RequiredCount,
					rec.RequestedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	return cmd
}

func newApproveCommand() *cobra.Command {
	var (
		approver string
		comment  string
	)

	cmd := &cobra.Command{
		Use:   "approve <deployment-id>",
		Short: "Record an approval decision",
		Long: `Record one approver's approval on a deployment's pending round. When
the round reaches its required count the deployment resumes
automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.approvals.ApproveDeployment(cmd.Context(), args[0], approver, comment)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rec)
			}
			fmt.Printf("Approval recorded for round %s (status: %s)\n", rec.ID, rec.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver user id")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func newRejectCommand() *cobra.Command {
	var (
		approver string
		comment  string
	)

	cmd := &cobra.Command{
		Use:   "reject <deployment-id>",
		Short: "Reject a deployment's pending round",
		Long: `Reject a deployment's pending approval round. A single rejection
resolves the round immediately and routes the deployment to
remediation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.approvals.RejectDeployment(cmd.Context(), args[0], approver, comment)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rec)
			}
			fmt.Printf("Round %s rejected\n", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver user id")
	cmd.Flags().StringVar(&comment, "comment", "", "rejection reason")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func newApprovalsExpireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue approval rounds",
		Long: `Resolve every pending round past its configured timeout. Expired
rounds count as rejections and route their deployments to remediation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.approvals.ExpireDue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Expired %d round(s)\n", n)
			return nil
		},
	}
	return cmd
}
