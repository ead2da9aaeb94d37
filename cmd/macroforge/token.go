package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/macroforge-core/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Sign a bearer token for the REST API with security.jwt.secret.
Roles: viewer (read-only), operator (run and stop), admin (everything).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set; API authentication is disabled")
			}

			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetInt("ttl")
			if ttl <= 0 {
				ttl = cfg.Security.JWT.TokenTTL
			}

			token, err := auth.GenerateToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject (who the token is for)")
	cmd.Flags().String("role", string(auth.RoleOperator), "Role: viewer, operator, admin")
	cmd.Flags().Int("ttl", 0, "Lifetime in minutes (default security.jwt.token_ttl)")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag defined above
	return cmd
}
