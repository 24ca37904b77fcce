package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"SpriteForge/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user (jwt mode only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := auth.NewService(authConfig(cfg.Auth))
			if err != nil {
				return err
			}
			token, err := svc.IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
