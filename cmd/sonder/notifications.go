package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonder-map/sonder/internal/kv"
)

func (c *cli) notificationsCmd() *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List posts made near your memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.presenter(cmd)
			if err != nil {
				return err
			}
			if html {
				return p.Render(c.out)
			}
			cards := p.Cards()
			unread := 0
			for _, card := range cards {
				if card.Unread {
					unread++
				}
			}
			return c.printCards(p.Badge(), unread, cards)
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "render the notification panel markup")
	return cmd
}

func (c *cli) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := c.notifier()
			if _, err := n.Scan(cmd.Context()); err != nil {
				return fmt.Errorf("scan notifications: %w", err)
			}
			if _, ok := n.Get(args[0]); !ok {
				return fmt.Errorf("notification %s not found", args[0])
			}
			return n.MarkRead(args[0])
		},
	}
}

func (c *cli) readAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.presenter(cmd)
			if err != nil {
				return err
			}
			p.Open()
			return p.Close()
		},
	}
}

func (c *cli) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <id>",
		Short: "Mark a notification read and open the map at your memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.presenter(cmd)
			if err != nil {
				return err
			}
			if err := p.View(args[0]); err != nil {
				return err
			}
			lat, _ := c.app.KV.Get(kv.KeyNavLat)
			lng, _ := c.app.KV.Get(kv.KeyNavLng)
			_, err = fmt.Fprintf(c.out, "the map will open at %s, %s\n", lat, lng)
			return err
		},
	}
}
