package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/migrate"
)

func newMigrateCmd(d *deps) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Manage PostgreSQL schema migrations. SQLite databases create their schema
on open and need no migrations.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default MIGRATIONS_DIR)")

	open := func() (*migrate.Migrator, error) {
		c, err := d.loadConfig()
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if c.DBAdapter != config.AdapterPostgres {
			return nil, fmt.Errorf("migrations only work with PostgreSQL. Current adapter: %s", c.DBAdapter)
		}
		if dir == "" {
			dir = c.MigrationsDir
		}
		return migrate.Open(dir, c.PostgresDSN)
	}

	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Up(steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Migrations applied successfully")
			return nil
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 applies all)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Down(downSteps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Migrations rolled back successfully")
			return nil
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back (0 rolls back all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			if dirty {
				return fmt.Errorf("database is in a dirty state (version %d)", v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d\n", v)
			return nil
		},
	}

	var target int
	force := &cobra.Command{
		Use:   "force",
		Short: "Set the migration version without running migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				return errors.New("--version is required for force")
			}
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Force(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Forced database to version %d\n", target)
			return nil
		},
	}
	force.Flags().IntVar(&target, "version", 0, "version to force")

	cmd.AddCommand(up, down, version, force)
	return cmd
}
