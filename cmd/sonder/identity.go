package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonder-map/sonder/internal/identity"
)

func (c *cli) syncCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-code [code]",
		Short: "Show your sync code, or adopt one from another device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_, err := fmt.Fprintln(c.out, c.app.UserID)
				return err
			}
			id, err := identity.ApplySyncCode(c.app.KV, args[0])
			if err != nil {
				return err
			}
			c.app.SetUserID(id)
			c.app.Logger.Info("Sync code applied")
			_, err = fmt.Fprintf(c.out, "now posting as %s\n", id)
			return err
		},
	}
}
