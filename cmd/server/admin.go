package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/database"
	"github.com/iliyamo/event-admission/internal/middleware"
	"github.com/iliyamo/event-admission/internal/utils"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			config.SetupLogging(cfg.Env, cfg.LogLevel)
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(cmd.Context(), db)
		},
	}
}

// tokenCmd mints access tokens for scanner devices and operators.
func tokenCmd() *cobra.Command {
	var (
		role string
		org  string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role = strings.ToUpper(role)
			if role != middleware.RoleScanner && role != middleware.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", middleware.RoleScanner, middleware.RoleAdmin)
			}
			tok, err := utils.NewAccessToken(config.LoadJWTSecret(), args[0], role, org, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleScanner, "SCANNER or ADMIN")
	cmd.Flags().StringVar(&org, "org", "", "organization the token acts for")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

// keygenCmd prints a fresh credential key entry for CREDENTIAL_KEYS.
func keygenCmd() *cobra.Command {
	var kid string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a credential signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kid == "" {
				kid = "k" + time.Now().UTC().Format("20060102")
			}
			secret, err := utils.RandomHex(32)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", kid, secret)
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", "", "key id (default k<yyyymmdd>)")
	return cmd
}
