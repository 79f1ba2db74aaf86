package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the tokengen command, which mints a bearer token for
// local use against the reporting API.
func newRootCmd() *cobra.Command {
	var (
		actor model.Actor
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:          "tokengen",
		Short:        "Mint a bearer token for the reqaudit reporting API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			lifetime := ttl
			if lifetime <= 0 {
				lifetime = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
			}

			actor.IsAuthenticated = true
			token, err := service.NewTokenService(cfg.Auth.JWTSecret, lifetime).Issue(actor)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&actor.ID, "id", "", "user id")
	flags.StringVar(&actor.Username, "username", "", "username")
	flags.StringVar(&actor.Email, "email", "", "e-mail address")
	flags.BoolVar(&actor.IsStaff, "staff", false, "grant staff access")
	flags.BoolVar(&actor.IsSuperuser, "superuser", false, "grant superuser access")
	flags.DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl_hours)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
