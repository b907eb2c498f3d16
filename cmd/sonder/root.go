package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sonder-map/sonder/internal/app"
	"github.com/sonder-map/sonder/internal/config"
	"github.com/sonder-map/sonder/internal/imgur"
	"github.com/sonder-map/sonder/internal/journal"
	"github.com/sonder-map/sonder/internal/notify"
	"github.com/sonder-map/sonder/internal/presenter"
	"github.com/sonder-map/sonder/internal/songmeta"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// bootstrapFunc opens the shared runtime. Tests swap it for a fixture.
type bootstrapFunc func(app.Options) (*app.App, error)

// cli carries what every subcommand needs once the runtime is open.
type cli struct {
	bootstrap bootstrapFunc
	configDir string
	format    string

	app     *app.App
	journal *journal.Journal
	out     io.Writer
}

// execute runs one command line and releases the runtime afterwards.
func execute(ctx context.Context, args []string, out io.Writer, bootstrap bootstrapFunc) error {
	root, c := newRootCmd(bootstrap)
	defer c.close()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(bootstrap bootstrapFunc) (*cobra.Command, *cli) {
	if bootstrap == nil {
		bootstrap = app.Bootstrap
	}
	c := &cli{bootstrap: bootstrap}

	root := &cobra.Command{
		Use:           "sonder",
		Short:         "Leave memories on the map and see who posted near yours",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.format != formatText && c.format != formatJSON {
				return fmt.Errorf("unknown format %q, want %s or %s", c.format, formatText, formatJSON)
			}
			return c.open(cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&c.configDir, "config", ".", "directory containing "+config.FileName)
	root.PersistentFlags().StringVar(&c.format, "format", formatText, "output format: text or json")

	root.AddCommand(
		c.archiveCmd(),
		c.playlistCmd(),
		c.mineCmd(),
		c.deleteCmd(),
		c.clearCmd(),
		c.notificationsCmd(),
		c.readCmd(),
		c.readAllCmd(),
		c.viewCmd(),
		c.syncCodeCmd(),
		c.dropCmd(),
	)
	return root, c
}

func (c *cli) open(out io.Writer) error {
	a, err := c.bootstrap(app.Options{ConfigDir: c.configDir, Name: "sonder"})
	if err != nil {
		return err
	}
	c.app = a
	c.out = out

	opts := []journal.Option{journal.WithLogger(a.Logger)}
	ic := config.GetImgurConfig()
	if up := imgur.New(ic.ClientID, imgur.WithMaxBytes(ic.MaxBytes), imgur.WithTimeout(ic.Timeout)); up.Configured() {
		opts = append(opts, journal.WithUploader(up))
	}
	opts = append(opts, journal.WithSongLookup(songmeta.New(songmeta.DefaultEndpoint, ic.Timeout)))
	c.journal = journal.New(a.Store, a.KV, opts...)
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// notifier builds a notifier for the current user from config.
func (c *cli) notifier() *notify.Notifier {
	nc := config.GetNotifyConfig()
	opts := []notify.Option{notify.WithLogger(c.app.Logger)}
	if nc.RecencyDays > 0 {
		opts = append(opts, notify.WithWindow(nc.Window()))
	}
	if nc.RadiusMeters > 0 {
		opts = append(opts, notify.WithRadius(nc.RadiusMeters))
	}
	if nc.MaxCandidates > 0 {
		opts = append(opts, notify.WithMaxCandidates(nc.MaxCandidates))
	}
	if nc.Timeout > 0 {
		opts = append(opts, notify.WithTimeout(nc.Timeout))
	}
	return notify.New(c.app.Store, c.app.KV, c.app.UserID, opts...)
}

// presenter scans once and returns a panel without a live map, so View
// leaves the destination for the next map load.
func (c *cli) presenter(cmd *cobra.Command) (*presenter.Presenter, error) {
	n := c.notifier()
	if _, err := n.Scan(cmd.Context()); err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	return presenter.New(n, c.app.KV, presenter.WithLogger(c.app.Logger)), nil
}
