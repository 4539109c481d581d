package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"school-admin/internal/app"
	"school-admin/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema (Postgres) or buckets (bbolt) and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(cfg *config.Config, stores *app.Stores) error {
			if err := stores.Health(cmd.Context()); err != nil {
				return fmt.Errorf("store not healthy after migration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is ready\n", cfg.StoreDriver)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
