package main

import (
	"errors"
	"fmt"
	"time"

	"filecollection/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCommand(c *cli) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue an HS256 token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.v.GetString("secret")
			if secret == "" {
				return errors.New("no signing secret: pass --secret or set FILECTL_SECRET")
			}
			token, err := auth.IssueToken([]byte(secret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("secret", "", "HMAC secret shared with the server's JWT_SECRET")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
