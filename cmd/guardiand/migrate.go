package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/davidleathers/guardian-recovery/internal/infrastructure/config"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")

	run := func(fn func(m *database.Migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			m, err := openMigrator(cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, m.Close()) }()
			return fn(m, cmd)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				if err := m.Up(steps); err != nil {
					return err
				}
				return printVersion(m, cmd)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back migrations",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return printVersion(m, cmd)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				return printVersion(m, cmd)
			}),
		},
	)
	return cmd
}

func openMigrator(cfg *config.Config) (*database.Migrator, error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("migrations require the postgres driver, configured driver is %q", cfg.Storage.Driver)
	}
	return database.NewMigrator(cfg.Storage.Postgres.URL)
}

func printVersion(m *database.Migrator, cmd *cobra.Command) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
	return nil
}
