package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/deployforge/deployforge/pkg/config"
	"github.com/deployforge/deployforge/pkg/engine"
	"github.com/deployforge/deployforge/pkg/toolproto"
)

func newServeCommand() *cobra.Command {
	var expireInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine in the foreground",
		Long: `Run the engine until interrupted. While serving, DeployForge:

  - exposes Prometheus metrics
  - resumes resource monitoring for deployments in the monitoring status
  - expires overdue approval rounds on a timer
  - hot reloads the tool server list when the config file changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.metrics.StartMetricsServer(); err != nil {
				return err
			}

			// Monitoring loops do not survive restarts; resume them for
			// every deployment parked at monitoring.
			monitoring := engine.StatusMonitoring
			deps, err := app.orch.ListDeployments(ctx, &monitoring, 1000, 0)
			if err != nil {
				return err
			}
			for _, dep := range deps {
				app.orch.StartMonitor(dep.ID)
			}
			app.logger.WithField("resumed_monitors", len(deps)).Info("engine serving")

			if configPath != "" {
				watcher := config.NewWatcher(configPath, func(cfg *config.Config) {
					applyToolServers(ctx, app, cfg)
				}, app.logger)
				if err := watcher.Start(ctx); err != nil {
					return err
				}
				defer watcher.Stop()
			}

			ticker := time.NewTicker(expireInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n, err := app.approvals.ExpireDue(ctx); err != nil {
						app.logger.WithError(err).Warn("approval expiry sweep failed")
					} else if n > 0 {
						app.logger.WithField("expired", n).Info("expired overdue approval rounds")
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&expireInterval, "expire-interval", time.Minute, "how often to sweep overdue approval rounds")
	return cmd
}

// applyToolServers re-registers the tool server list from a freshly
// reloaded config. Removed servers keep their fallbacks; changed URLs
// take effect on the next call.
func applyToolServers(ctx context.Context, app *app, cfg *config.Config) {
	for _, ts := range cfg.ToolServers {
		err := app.tools.RegisterServer(ctx, toolproto.ServerConfig{
			Name:             ts.Name,
			URL:              ts.URL,
			Eager:            ts.Eager,
			HandshakeTimeout: ts.HandshakeTimeout,
			CallTimeout:      ts.CallTimeout,
		})
		if err != nil {
			app.logger.WithToolServer(ts.Name, ts.URL).
				WithError(err).
				Warn("failed to re-register tool server")
		}
	}
}
