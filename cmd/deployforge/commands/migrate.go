package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply any pending schema migrations to the state database. Migrations
also run automatically on startup; this command exists for provisioning
a database ahead of time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := dbPath
			if path == "" && configPath != "" {
				app, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				app.Close()
				fmt.Println("Migrations applied")
				return nil
			}
			if path == "" {
				path = "deployforge.db"
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: path})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Migrations applied to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	return cmd
}
