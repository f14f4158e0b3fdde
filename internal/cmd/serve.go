package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgrelay/tgrelay/internal/config"
	"github.com/tgrelay/tgrelay/internal/core/admin"
	"github.com/tgrelay/tgrelay/internal/core/store"
	"github.com/tgrelay/tgrelay/internal/metrics"
	"github.com/tgrelay/tgrelay/internal/observability"
	"github.com/tgrelay/tgrelay/internal/server"
	"github.com/tgrelay/tgrelay/internal/server/handlers"
	"github.com/tgrelay/tgrelay/internal/telegram"
)

var (
	serverPort int
	serverHost string
	noTelegram bool
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the HTTP server",
	Long: `Run the Telegram bot and the operator HTTP server.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown; in-flight updates finish
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and apply the daily limit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := config.Load(ctx, serveOverrides(cmd))
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}
		if cfg.Telegram.Enabled {
			if err := cfg.RequireTelegram(); err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Telegram is enabled but not configured", err)
			}
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return fmt.Errorf("metrics initialization failed: %w", err)
			}
		}
		started := time.Now()
		metrics.SetServerStartTime(started.Unix())

		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Failed to open store", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Failed to migrate store", err)
		}

		var (
			api    *tgbotapi.BotAPI
			sender admin.Sender
		)
		if cfg.Telegram.Enabled {
			api, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
			if err != nil {
				_ = db.Close()
				return fmt.Errorf("connect to telegram: %w", err)
			}
			api.Debug = cfg.Telegram.Debug
			sender = telegram.NewSender(api, 0, 0)
		}

		relay, err := buildRelay(cfg, db, sender, logger)
		if err != nil {
			_ = db.Close()
			return err
		}

		logger.Info("Initializing relay",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.Int("daily_limit", cfg.Quota.DailyLimit),
			zap.String("timezone", relay.location.String()),
			zap.Int("admins", len(cfg.Quota.AdminIDs)),
			zap.Strings("backends", relay.backendKeys()),
			zap.Bool("telegram", cfg.Telegram.Enabled))

		var bot *telegram.Bot
		if api != nil {
			bot = &telegram.Bot{
				API:         api,
				Dispatcher:  relay.dispatcher,
				Users:       db,
				Renderer:    &telegram.Renderer{Specs: relay.specs, Location: relay.location},
				Workers:     cfg.Telegram.Workers,
				PollTimeout: cfg.Telegram.PollTimeout,
				MenuTTL:     cfg.Telegram.MenuTTL,
				Logger:      logger,
			}
			logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))
		}

		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", db)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		if bot != nil {
			hm.RegisterChecker("telegram", handlers.CheckerFunc(func(context.Context) error {
				if !bot.Running() {
					return errors.New("telegram poller is not running")
				}
				return nil
			}))
		}
		handlers.SetAppIdentity(identity)
		handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
		handlers.SetBackends(relay.backendKeys())

		opts := server.Options{
			Host:          cfg.Server.Host,
			Port:          cfg.Server.Port,
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			IdleTimeout:   cfg.Server.IdleTimeout,
			AdminToken:    cfg.Admin.Token,
			Admin:         relay.admin,
			MetricsPort:   cfg.Metrics.Port,
			DisableHealth: !cfg.Health.Enabled,
		}
		if bot != nil {
			opts.BotRunning = bot.Running
		}
		srv := server.New(opts)

		runCtx, stopRun := context.WithCancel(ctx)
		defer stopRun()

		errChan := make(chan error, 3)
		botDone := make(chan struct{})
		if bot != nil {
			go func() {
				defer close(botDone)
				if err := bot.Run(runCtx); err != nil {
					errChan <- err
				}
			}()
		} else {
			close(botDone)
		}

		go relay.runJanitor(runCtx, func(removed int) {
			metrics.RecordEviction(removed)
			metrics.SetTrackedUsers(len(relay.tracker.KnownUsers()))
			metrics.SetServerUptime(int64(time.Since(started).Seconds()))
			if removed > 0 {
				logger.Info("Evicted stale usage records", zap.Int("removed", removed))
			}
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP, bot, store, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			return db.Close()
		})
		signals.OnShutdown(func(ctx context.Context) error {
			stopRun()
			select {
			case <-botDone:
				logger.Info("Telegram bot stopped")
			case <-time.After(shutdownTimeout):
				logger.Warn("Telegram bot did not stop in time", zap.Duration("timeout", shutdownTimeout))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx, relay)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

// reloadConfig re-reads configuration on SIGHUP. Only the daily limit is
// applied live; other changes need a restart.
func reloadConfig(ctx context.Context, relay *relay) error {
	logger := observability.ServerLogger
	logger.Info("Received SIGHUP: reloading configuration")

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Error("Config reload failed", zap.Error(err))
		return err
	}

	previous := relay.tracker.Limit()
	if cfg.Quota.DailyLimit != previous {
		if err := relay.tracker.SetLimit(cfg.Quota.DailyLimit); err != nil {
			return err
		}
		logger.Info("Daily limit reloaded", zap.Int("previous", previous), zap.Int("limit", cfg.Quota.DailyLimit))
	}
	logger.Info("Configuration reloaded")
	return nil
}

// serveOverrides maps explicitly set flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	listen := map[string]any{}
	if cmd.Flags().Changed("host") {
		listen["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		listen["port"] = serverPort
	}
	if len(listen) > 0 {
		overrides["server"] = listen
	}
	if noTelegram {
		overrides["telegram"] = map[string]any{"enabled": false}
	}
	return overrides
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
	serveCmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "serve HTTP only; do not poll Telegram")
}
