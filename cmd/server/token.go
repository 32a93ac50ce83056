package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/offline-downloader/internal/auth"
	cfgpkg "github.com/veranemoloko/offline-downloader/internal/config"
)

// newTokenCmd issues a token signed with the configured secret, for local
// testing against a running server.
func newTokenCmd() *cobra.Command {
	var (
		user  string
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgpkg.Load(envFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(auth.Identity{Username: user, IsAdmin: admin}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the token is issued for")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
