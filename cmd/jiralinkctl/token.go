package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jiralink.dev/internal/auth"
)

func newTokenCmd(load loadFunc) *cobra.Command {
	var (
		tenantID string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, ok := auth.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q (want organization or employee)", role)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.AuthSecret)
			if err != nil {
				return err
			}
			tok, err := v.GenerateToken(auth.Identity{TenantID: tenantID, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (organization or employee id)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOrganization), "organization or employee")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
