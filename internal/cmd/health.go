package cmd

import (
	"context"
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that configuration loads, the backend catalog builds and the store answers.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", nil)
			return
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errors.New("version not set at build time"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, db, err := openStore(ctx)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Store or configuration unavailable", err)
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		logger.Info("✅ Configuration loaded")

		if err := db.CheckHealth(ctx); err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Store ping failed", err)
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		relay, err := buildRelay(cfg, db, nil, logger)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Backend catalog invalid", err)
			return
		}
		logger.Info("✅ Backends ready", zap.Strings("backends", relay.backendKeys()))

		if cfg.Telegram.Enabled {
			if err := cfg.RequireTelegram(); err != nil {
				logger.Warn("Telegram is enabled but not configured", zap.Error(err))
			}
		}

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
