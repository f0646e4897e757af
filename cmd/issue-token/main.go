package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/config"
)

// issue-token mints gateway JWTs for terminals and internal services.

var ttl time.Duration

var rootCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Issue gateway access tokens",
}

var terminalCmd = &cobra.Command{
	Use:   "terminal <terminal-id>",
	Short: "Issue a token for a payment terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issue(cmd, args[0], auth.RoleTerminal)
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service <name>",
	Short: "Issue a token for an internal service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issue(cmd, args[0], auth.RoleService)
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_EXPIRATION_HOURS)")
	rootCmd.AddCommand(terminalCmd, serviceCmd)
}

func issue(cmd *cobra.Command, id, role string) error {
	cfg := config.Load()
	expiration := ttl
	if expiration <= 0 {
		expiration = cfg.JWTExpiration
	}
	token, err := auth.GenerateJWT(cfg.JWTSecret, id, role, expiration)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
