package cmd

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"school-admin/internal/app"
	"school-admin/internal/config"
	"school-admin/internal/model"
	"school-admin/internal/service"
)

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create the first admin account",
	Long: `Creates an admin while the store holds none. Once an admin exists further
accounts are created through the API by an authenticated admin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := model.CreateStaffRequest{Name: adminName, Email: adminEmail, Password: adminPassword}
		if err := validateRequest(req); err != nil {
			return err
		}

		return withStores(cmd.Context(), func(cfg *config.Config, stores *app.Stores) error {
			return createAdmin(cmd, cfg, stores, req)
		})
	},
}

func createAdmin(cmd *cobra.Command, cfg *config.Config, stores *app.Stores, req model.CreateStaffRequest) error {
	admins := service.NewAdminService(stores.Users, stores.Tokens, nil, cfg.BcryptCost)

	user, err := admins.CreateAdmin(cmd.Context(), nil, req)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "admin created: %s <%s>\n", user.ID, user.Email)
	return nil
}

func validateRequest(req any) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fmt.Errorf("invalid %s: %s", fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return err
	}
	return nil
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "initial password (8-72 bytes)")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createAdminCmd)
}
