package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"SpriteForge/internal/storage/sqldb"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "memory" {
				return fmt.Errorf("内存存储无需迁移")
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := sqldb.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(out, "applied %s\n", version)
			}
			return nil
		},
	}
}
