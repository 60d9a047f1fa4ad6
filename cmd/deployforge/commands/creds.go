package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/credentials"
)

func newCredsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage service credentials",
	}
	cmd.AddCommand(newCredsSupplyCommand())
	cmd.AddCommand(newCredsStatusCommand())
	cmd.AddCommand(newCredsStoreCommand())
	cmd.AddCommand(newCredsListCommand())
	cmd.AddCommand(newCredsShareCommand())
	cmd.AddCommand(newCredsDeleteCommand())
	return cmd
}

func newCredsStoreCommand() *cobra.Command {
	var (
		owner       string
		serviceType string
		name        string
		tags        []string
		reusable    bool
	)

	cmd := &cobra.Command{
		Use:   "store KEY=VALUE [KEY=VALUE...]",
		Short: "Store a reusable credential in the vault",
		Long: `Encrypt and store a named credential owned by a user. Stored
credentials can be shared with other users and reused across
deployments. Listing never decrypts; only Get by an authorized user
does.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := make(credentials.Payload, len(args))
			for _, pair := range args {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid credential %q, expected KEY=VALUE", pair)
				}
				payload[key] = value
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cred, err := app.vault.Save(cmd.Context(), owner, serviceType, name, payload, tags, reusable)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cred)
			}
			fmt.Printf("Stored credential %s\n", cred.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user id")
	cmd.Flags().StringVar(&serviceType, "service", "", "service type")
	cmd.Flags().StringVar(&name, "name", "", "credential name")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	cmd.Flags().BoolVar(&reusable, "reusable", false, "allow reuse across deployments")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCredsListCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's vault credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			creds, err := app.vault.List(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(creds)
			}

			w := newTable()
			row(w, "ID", "NAME", "SERVICE", "REUSABLE")
			for _, c := range creds {
				row(w, c.ID, c.Name, c.ServiceType, c.Reusable)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newCredsShareCommand() *cobra.Command {
	var (
		owner   string
		grantee string
	)

	cmd := &cobra.Command{
		Use:   "share <credential-id>",
		Short: "Share a vault credential with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.vault.Share(cmd.Context(), owner, args[0], grantee); err != nil {
				return err
			}
			fmt.Printf("Credential %s shared with %s\n", args[0], grantee)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user id")
	cmd.Flags().StringVar(&grantee, "with", "", "user id to share with")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

func newCredsDeleteCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "delete <credential-id>",
		Short: "Delete a vault credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.vault.Delete(cmd.Context(), owner, args[0]); err != nil {
				return err
			}
			fmt.Printf("Credential %s deleted\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newCredsSupplyCommand() *cobra.Command {
	var (
		serviceType string
		process     bool
	)

	cmd := &cobra.Command{
		Use:   "supply <deployment-id> KEY=VALUE [KEY=VALUE...]",
		Short: "Supply and validate credentials for a service",
		Long: `Supply credentials for one detected service type. The credentials are
run through a sandboxed connection test first; only credentials that pass
are encrypted and stored. A failed test stores nothing.`,
		Example: `  # Supply postgres credentials
  deployforge creds supply dep-id host=db.internal username=app password=secret --service postgres`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := make(credentials.Payload, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid credential %q, expected KEY=VALUE", pair)
				}
				payload[key] = value
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.orch.SupplyCredentials(cmd.Context(), args[0], serviceType, payload)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("connection test failed: %s", result.Message)
			}
			fmt.Printf("Credentials for %s validated and stored\n", serviceType)

			if process {
				pr, err := app.orch.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Deployment now %s (%s)\n", pr.Status, pr.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serviceType, "service", "", "service type (postgres, redis, ...)")
	cmd.Flags().BoolVar(&process, "process", false, "process the deployment after a passing test")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func newCredsStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show per-service credential readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			configs, err := app.store.ListServiceConfigs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(configs)
			}

			w := newTable()
			row(w, "SERVICE", "VALIDATED", "SANDBOX TESTED")
			for _, cfg := range configs {
				row(w, cfg.ServiceType, cfg.Validated, cfg.SandboxTested)
			}
			return w.Flush()
		},
	}
	return cmd
}
