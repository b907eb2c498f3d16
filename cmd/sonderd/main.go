// Command sonderd keeps a headless sonder map in sync with the shared
// entries store, scans for nearby posts and serves both over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sonder-map/sonder/internal/app"
	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/logging"
	"github.com/sonder-map/sonder/internal/metrics"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configDir string
		console   bool
	)
	cmd := &cobra.Command{
		Use:           "sonderd",
		Short:         "Run the sonder map daemon",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, app.Options{ConfigDir: configDir, Name: "sonderd", Console: console})
		},
	}
	cmd.Flags().StringVar(&configDir, "config", ".", "directory containing "+config.FileName)
	cmd.Flags().BoolVar(&console, "console", false, "log to stdout instead of a file")
	return cmd
}

func run(ctx context.Context, opts app.Options) error {
	a, err := app.Bootstrap(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Logger.Info("Starting sonderd", "version", Version, "buildDate", BuildDate, "userId", a.UserID)

	var mm *metrics.Manager
	if ic := config.GetInfluxConfig(); ic.Enabled {
		mm = metrics.NewManager(metrics.Config{
			Enabled:  ic.Enabled,
			Protocol: ic.Protocol,
			Host:     ic.Host,
			Port:     ic.Port,
			Token:    ic.Token,
			Org:      ic.Org,
		}, a.Zerolog, ic.BackupPath)
		if err := mm.Connect(ctx); err != nil {
			a.Logger.Warn("Metrics disabled", "error", err)
			mm = nil
		}
	}

	apiCfg := config.GetAPIConfig()
	d, err := newDaemon(daemonConfig{
		UserID:  a.UserID,
		Notify:  config.GetNotifyConfig(),
		Map:     config.GetMapConfig(),
		API:     apiCfg,
		Monitor: config.GetMonitorConfig(),
	}, a.Store, a.KV, a.Logger, logging.NewDispatcherLogger(a.Zerolog), mm)
	if err != nil {
		return err
	}
	defer d.stop()

	if d.api != nil {
		a.Logger.Info("Serving HTTP API", "addr", apiCfg.Addr)
	}
	err = d.run(ctx, apiCfg.Addr)
	a.Logger.Info("Shutting down", "markers", d.reconciler.Count())
	return err
}
