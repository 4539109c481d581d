package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"school-admin/internal/app"
	"school-admin/internal/config"
)

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-tokens",
	Short: "Delete expired refresh tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(_ *config.Config, stores *app.Stores) error {
			n, err := stores.Tokens.DeleteExpired(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired refresh tokens\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(purgeTokensCmd)
}
