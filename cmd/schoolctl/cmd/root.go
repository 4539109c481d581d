package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"school-admin/internal/app"
	"school-admin/internal/config"
	"school-admin/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "schoolctl",
	Short: "Operator tooling for the school administration API",
	Long: `Maintenance commands that run against the same store as the API server.
Configuration is read from the environment (and .env) exactly like the server.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// withStores loads configuration, opens the configured store and hands both
// to fn. The store is closed when fn returns.
func withStores(ctx context.Context, fn func(cfg *config.Config, stores *app.Stores) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel))

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	return fn(cfg, stores)
}
