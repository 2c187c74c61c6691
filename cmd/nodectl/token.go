package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
)

func (c *cli) tokenCmd() *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleUser && role != auth.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			m, err := auth.NewJWTManager(c.config.Auth.JWTSecret, c.config.Auth.Issuer, c.config.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := m.GenerateToken(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner id placed in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "token role: user or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
