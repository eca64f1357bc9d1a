package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/store/pg"
	"github.com/dropDatabas3/crossauth/migrations/postgres"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Migraciones del schema de PostgreSQL"}

	open := func(cmd *cobra.Command) (*pg.Store, error) {
		if opts.cfg.Storage.Driver != "postgres" {
			return nil, errNeedsPostgres
		}
		return pg.New(cmd.Context(), opts.cfg.Storage.DSN, pg.PoolConfig{MaxConns: 2})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Aplica las migraciones pendientes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			res, err := s.Migrate(cmd.Context(), migrations.FS, migrations.Dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, v := range res.Applied {
				fmt.Fprintf(out, "applied %04d\n", v)
			}
			fmt.Fprintf(out, "applied=%d skipped=%d in %s\n", len(res.Applied), len(res.Skipped), res.Duration)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Lista las migraciones pendientes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			pending, err := s.Pending(cmd.Context(), migrations.FS, migrations.Dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "schema al día")
				return nil
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending %04d_%s\n", m.Version, m.Name)
			}
			return nil
		},
	})
	return cmd
}
