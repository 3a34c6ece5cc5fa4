package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sydlexius/alldbs/internal/api"
	"github.com/sydlexius/alldbs/internal/api/middleware"
	"github.com/sydlexius/alldbs/internal/backup"
	"github.com/sydlexius/alldbs/internal/client"
	"github.com/sydlexius/alldbs/internal/config"
	"github.com/sydlexius/alldbs/internal/database"
	"github.com/sydlexius/alldbs/internal/event"
	"github.com/sydlexius/alldbs/internal/logging"
	"github.com/sydlexius/alldbs/internal/maintenance"
	"github.com/sydlexius/alldbs/internal/metrics"
	"github.com/sydlexius/alldbs/internal/registry"
	"github.com/sydlexius/alldbs/internal/version"
	"github.com/sydlexius/alldbs/internal/watcher"
	"github.com/sydlexius/alldbs/internal/webhook"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg.Logging))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maintenanceService := maintenance.NewService(db, cfg.Database.Path, logger)
	if err := maintenanceService.IntegrityCheck(ctx); err != nil {
		return fmt.Errorf("checking registry integrity: %w", err)
	}

	reg, err := newRegistry(db, cfg, logger)
	if err != nil {
		return err
	}

	dbClient, err := newClient(reg, cfg, logger)
	if err != nil {
		return err
	}

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	feed := event.NewFeed(1000)
	eventBus.SubscribeAll(feed.Record)

	auditLogger := logger.With(slog.String("component", "audit"))
	eventBus.SubscribeAll(func(e event.Event) {
		auditLogger.Info(string(e.Type), slog.String("key", e.Key), slog.String("adapter", e.Adapter))
	})

	webhookDispatcher := webhook.NewDispatcher(webhooksFromConfig(cfg.Webhooks), logger)
	if webhookDispatcher.Len() > 0 {
		eventBus.SubscribeAll(webhookDispatcher.HandleEvent)
		logger.Info("webhooks configured", slog.Int("count", webhookDispatcher.Len()))
	}

	var appMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		appMetrics = metrics.New(reg)
		eventBus.SubscribeAll(appMetrics.HandleEvent)
	}

	dbClient.SetEventBus(eventBus)

	backupDir := cfg.Backup.Path
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	}
	backupService := backup.NewService(db, backupDir, cfg.Backup.RetentionCount, logger)
	backupService.SetMaxAgeDays(cfg.Backup.MaxAgeDays)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
	}

	logger.Info("starting alldbs",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("conflict_policy", string(reg.Policy())),
		slog.String("default_adapter", dbClient.DefaultAdapter()),
	)
	if cfg.Admin.TokenHash == "" {
		logger.Warn("admin token not configured; administrative endpoints are disabled")
	}

	router := api.NewRouter(api.RouterDeps{
		Client:             dbClient,
		Feed:               feed,
		BackupService:      backupService,
		MaintenanceService: maintenanceService,
		Metrics:            appMetrics,
		RateLimiter:        limiter,
		Logger:             logger,
		BasePath:           cfg.Server.BasePath,
		AdminTokenHash:     cfg.Admin.TokenHash,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.Backup.Enabled {
		go backupService.StartScheduler(ctx, time.Duration(cfg.Backup.IntervalHours)*time.Hour)
	}
	if cfg.Maintenance.Enabled {
		go maintenanceService.StartScheduler(ctx, time.Duration(cfg.Maintenance.IntervalHours)*time.Hour)
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		cw := watcher.NewConfigWatcher(configPath, func(next *config.Config) {
			applyConfig(next, logManager, reg, logger)
		}, logger)
		go func() {
			if err := cw.Start(ctx); err != nil {
				logger.Warn("config watcher unavailable", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newClient registers the built-in adapters and selects the default.
func newClient(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	c := client.New(reg, logger)
	c.Register(client.NewSQLiteAdapter(cfg.Client.DataDir))
	c.Register(client.NewMemoryAdapter())
	c.Register(client.NewBoltAdapter(filepath.Join(cfg.Client.DataDir, "bolt")))
	c.Register(client.NewHTTPAdapter(client.HTTPConfig{
		BaseURL:  cfg.Client.Remote.BaseURL,
		Username: cfg.Client.Remote.Username,
		Password: cfg.Client.Remote.Password,
		Timeout:  cfg.Client.Remote.Timeout,
		RetryMax: cfg.Client.Remote.RetryMax,
	}, logger))
	if err := c.SetDefaultAdapter(cfg.Client.DefaultAdapter); err != nil {
		return nil, err
	}
	return c, nil
}

// applyConfig hot-applies the settings that can change without a restart.
func applyConfig(cfg *config.Config, logs *logging.Manager, reg *registry.Registry, logger *slog.Logger) {
	lc := loggingConfig(cfg.Logging)
	if logs.Reconfigure(lc) {
		logger.Info("logging output reconfigured", slog.String("config", lc.String()))
	}

	policy, err := registry.ParseConflictPolicy(cfg.Registry.ConflictPolicy)
	if err != nil {
		logger.Warn("ignoring conflict policy change", "error", err)
		return
	}
	if policy != reg.Policy() {
		reg.SetConflictPolicy(policy)
		logger.Info("conflict policy changed", slog.String("policy", string(policy)))
	}
}

func webhooksFromConfig(cfgs []config.WebhookConfig) []webhook.Webhook {
	out := make([]webhook.Webhook, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, webhook.Webhook{Name: c.Name, URL: c.URL, Events: c.Events})
	}
	return out
}
