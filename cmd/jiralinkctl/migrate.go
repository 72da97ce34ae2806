package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"jiralink.dev/internal/config"
	"jiralink.dev/internal/migrate"
)

type loadFunc func() (config.Config, error)

func newMigrateCmd(load loadFunc) *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the database schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to database_dsn from config)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	withManager := func(run func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				dsn = cfg.DatabaseDSN
			}
			if dsn == "" {
				return errors.New("missing DSN: pass --dsn or set JIRALINK_PG_DSN")
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, cmd, migrate.NewManager(db))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				applied, err := mgr.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				name, err := mgr.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, name := range history {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load development tenants",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
				applied, err := mgr.Seed(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
				}
				if err != nil {
					return fmt.Errorf("migrate seed: %w", err)
				}
				return nil
			}),
		},
	)
	return cmd
}
