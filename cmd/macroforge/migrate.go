package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, func(db *database.DB) error {
					if err := db.Migrate(cmd.Context()); err != nil {
						return err
					}
					return printMigrationStatus(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, func(db *database.DB) error {
					if err := db.MigrateDown(cmd.Context()); err != nil {
						return err
					}
					return printMigrationStatus(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, func(db *database.DB) error {
					return printMigrationStatus(cmd, db)
				})
			},
		},
	)
	return cmd
}

// withDatabase opens the configured database for fn.
func withDatabase(cmd *cobra.Command, fn func(db *database.DB) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := database.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read path

	return fn(db)
}

func printMigrationStatus(cmd *cobra.Command, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
