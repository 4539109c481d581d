package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"school-admin/internal/app"
	"school-admin/internal/config"
	"school-admin/internal/model"
	"school-admin/internal/service"
)

var usersRole string

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List staff accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var role model.Role
		if usersRole != "" {
			parsed, ok := model.ParseRole(usersRole)
			if !ok {
				return fmt.Errorf("unknown role %q", usersRole)
			}
			role = parsed
		}

		return withStores(cmd.Context(), func(cfg *config.Config, stores *app.Stores) error {
			admins := service.NewAdminService(stores.Users, stores.Tokens, nil, cfg.BcryptCost)
			users, err := admins.ListUsers(cmd.Context(), role)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Role)
			}
			return tw.Flush()
		})
	},
}

func init() {
	usersCmd.Flags().StringVar(&usersRole, "role", "", "only list this role (admin or profesor)")
	rootCmd.AddCommand(usersCmd)
}
