package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/copilot-relay/internal/identity"
)

var (
	tokenUserID string
	tokenName   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}
		tok, err := identity.IssueToken(secret, tokenUserID, tokenName, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
