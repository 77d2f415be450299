// cmd/tracker/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"release-tracker/internal/api"
	"release-tracker/internal/config"
	"release-tracker/internal/feed"
	"release-tracker/internal/github"
	"release-tracker/internal/notify"
	"release-tracker/internal/poller"
	"release-tracker/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and poller",
	Long: `Run the HTTP API and the polling engine in one process.

The poller does not start cycling until it is enabled, either through
POST /v1/poller/start or by an enabled flag already persisted in the
database from an earlier session. The server runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	st := store.New(dbpool)
	feedClient := feed.NewClient(logger)
	factory := func(token string) poller.Fetcher {
		return poller.RouteFetcher{API: github.NewClient(token, logger), Feed: feedClient}
	}
	engine := poller.NewEngine(st, st, st, factory, poller.Options{
		FetchTimeout: cfg.SourceFetchTimeout,
		Concurrency:  cfg.CycleConcurrency,
		Logger:       logger,
	})
	reconciler := poller.NewReconciler(engine, st, cfg.ReconcileInterval, logger)

	// 6. Start the background loops
	go engine.Run(ctx)
	go reconciler.Run(ctx)

	notifier := notify.New(notify.Config{
		DiscordWebhookURL: cfg.DiscordWebhookURL,
		SlackWebhookURL:   cfg.SlackWebhookURL,
		GenericWebhookURL: cfg.GenericWebhookURL,
	}, logger)
	if cfg.NotificationsEnabled && notifier.Enabled() {
		events := engine.Subscribe()
		go notifier.Run(ctx, events)
		logger.Info("Webhook notifications enabled")
	}

	// 7. Serve the API until the shutdown signal arrives
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(engine, st, notifier, logger),
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received. Draining connections.")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Application started", "listen_addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
