package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect tool servers",
	}
	cmd.AddCommand(newToolsStatusCommand())
	cmd.AddCommand(newToolsHistoryCommand())
	cmd.AddCommand(newToolsCallCommand())
	return cmd
}

func newToolsStatusCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tool server state",
		Long: `Show each configured tool server and whether it has completed its
protocol handshake. With --check every server is probed with a fresh
handshake; placeholder servers are never dialed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			statuses := app.tools.Statuses()
			if check {
				statuses = app.tools.HealthCheck(cmd.Context())
			}
			if jsonOutput {
				return printJSON(statuses)
			}

			w := newTable()
			row(w, "SERVER", "URL", "FALLBACK ONLY", "INITIALIZED", "TOOLS", "ERROR")
			for _, s := range statuses {
				row(w, s.Name, s.URL, s.FallbackOnly, s.Initialized, strings.Join(s.Tools, ","), s.Error)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "probe each server with a handshake")
	return cmd
}

func newToolsCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <server> <tool> [KEY=VALUE...]",
		Short: "Invoke a tool directly",
		Long: `Invoke a named tool on a server and print the raw result. Arguments
are passed as KEY=VALUE pairs; values that parse as JSON are sent
typed, everything else as a string. Falls back like any engine call
when the server is unreachable.`,
		Example: `  deployforge tools call analyzer analyze_repository repository=https://github.com/acme/shop`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := make(map[string]interface{}, len(args)-2)
			for _, pair := range args[2:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid argument %q, expected KEY=VALUE", pair)
				}
				var typed interface{}
				if err := json.Unmarshal([]byte(value), &typed); err == nil {
					callArgs[key] = typed
				} else {
					callArgs[key] = value
				}
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.tools.Call(cmd.Context(), args[0], args[1], callArgs)
			if err != nil {
				return err
			}

			var pretty interface{}
			if err := json.Unmarshal(result, &pretty); err != nil {
				fmt.Println(string(result))
				return nil
			}
			return printJSON(pretty)
		},
	}
	return cmd
}

func newToolsHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			records := app.tools.History().Recent(50)
			if jsonOutput {
				return printJSON(records)
			}

			w := newTable()
			row(w, "SERVER", "TOOL", "OK", "FALLBACK", "DURATION")
			for _, rec := range records {
				row(w, rec.Server, rec.Tool, rec.Success, rec.Fallback, rec.Duration)
			}
			return w.Flush()
		},
	}
	return cmd
}
