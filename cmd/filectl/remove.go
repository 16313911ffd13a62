package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID...",
		Aliases: []string{"remove"},
		Short:   "Remove records and their stored content",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := cl.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("removed"), id)
			}
			return nil
		},
	}
}
