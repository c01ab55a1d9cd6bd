package server

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/suprsync/cmd/suprsync/cli"
	"github.com/mwantia/suprsync/pkg/db/migrations"
	"github.com/spf13/cobra"
)

func NewDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the record store schema",
	}

	cmd.AddCommand(newDatabaseMigrateCommand())
	cmd.AddCommand(newDatabaseStatusCommand())
	cmd.AddCommand(newDatabaseRollbackCommand())

	return cmd
}

func newDatabaseMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s is up to date\n", cfg.Metadata.SQLite.Path)
			return nil
		},
	}
}

func newDatabaseStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			status, err := migrations.NewMigrator(st.DB()).Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
			for _, s := range status {
				applied := "pending"
				if s.Applied && s.AppliedAt != nil {
					applied = humanize.Time(*s.AppliedAt)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Description, applied)
			}
			return w.Flush()
		},
	}
}

func newDatabaseRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recently applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			reverted, err := migrations.NewMigrator(st.DB()).Rollback(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back migration %d (%s)\n", reverted.Version, reverted.Description)
			return nil
		},
	}
}
