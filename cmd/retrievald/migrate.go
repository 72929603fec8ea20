package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nelalabs/retrievald/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	Long: `Create the pgvector and pg_trgm extensions, the chunk and cache tables
and their indexes. Safe to re-run; every statement is idempotent.

Only meaningful for the postgres storage provider.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pg, ok := a.store.(*store.PostgresStore)
		if !ok {
			return fmt.Errorf("migrate requires storage.provider=postgres, got %q", a.cfg.Storage.Provider)
		}
		if err := pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("schema is up to date")
		return nil
	},
}
