package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sonder-map/sonder/internal/journal"
	"github.com/sonder-map/sonder/pkg/core"
)

func (c *cli) archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Show the latest memories from everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.journal.Archive(cmd.Context())
			if err != nil {
				return err
			}
			return c.printEntries(entries)
		},
	}
}

func (c *cli) playlistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playlist",
		Short: "Show recent memories that carry a song",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.journal.Playlist(cmd.Context())
			if err != nil {
				return err
			}
			return c.printEntries(entries)
		},
	}
}

func (c *cli) mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Show your memories with a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := c.journal.MyEntries(cmd.Context(), c.app.UserID)
			if err != nil {
				return err
			}
			return c.printMine(m)
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.journal.Delete(cmd.Context(), c.app.UserID, args[0]); err != nil {
				return err
			}
			c.app.Logger.Info("Entry deleted", "entryId", args[0])
			_, err := fmt.Fprintf(c.out, "deleted %s\n", args[0])
			return err
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all of your memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("this deletes every memory you posted; rerun with --yes")
			}
			n, err := c.journal.ClearAll(cmd.Context(), c.app.UserID)
			if err != nil {
				return err
			}
			c.app.Logger.Info("Entries cleared", "count", n)
			_, err = fmt.Fprintf(c.out, "deleted %d entries\n", n)
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting everything")
	return cmd
}

func (c *cli) dropCmd() *cobra.Command {
	var (
		d         journal.Draft
		color     string
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "drop <text>",
		Short: "Leave a memory at a place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Text = args[0]
			d.Color = core.ParseColor(color)
			d.UserAgent = "sonder-cli/" + Version
			if imagePath != "" {
				f, err := os.Open(imagePath)
				if err != nil {
					return fmt.Errorf("open image: %w", err)
				}
				defer f.Close()
				d.Image = f
				d.ImageName = filepath.Base(imagePath)
			}
			id, err := c.journal.Post(cmd.Context(), c.app.UserID, d)
			if err != nil {
				return err
			}
			c.app.Logger.Info("Entry posted", "entryId", id, "lat", d.Lat, "lng", d.Lng)
			if c.format == formatJSON {
				return c.printJSON(map[string]string{"id": id})
			}
			_, err = fmt.Fprintf(c.out, "dropped %s\n", id)
			return err
		},
	}
	f := cmd.Flags()
	f.Float64Var(&d.Lat, "lat", 0, "latitude")
	f.Float64Var(&d.Lng, "lng", 0, "longitude")
	f.StringVar(&color, "color", string(core.ColorBlack), "marker color")
	f.StringVar(&d.Song, "song", "", "song link")
	f.StringVar(&d.ManualTitle, "title", "", "song title when it cannot be looked up")
	f.StringVar(&d.ManualArtist, "artist", "", "song artist when it cannot be looked up")
	f.StringVar(&imagePath, "image", "", "image file to attach")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}
