// cmd/tracker/poll.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"release-tracker/internal/config"
	"release-tracker/internal/feed"
	"release-tracker/internal/github"
	"release-tracker/internal/poller"
	"release-tracker/internal/store"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and exit",
	Long: `Run one poll cycle against every tracked source and print the cycle
result as JSON. The cycle uses the API token stored in the poller config,
so the config must exist before this command can run.

Useful from cron as an alternative to the long-running poller, and for
checking source health by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoll()
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll() error {
	// Logs go to stderr so stdout carries only the cycle result.
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

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

	cycle, err := engine.TriggerNow(ctx)
	if err != nil {
		return fmt.Errorf("poll cycle failed: %w", err)
	}

	out, err := json.MarshalIndent(cycle, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if cycle.TotalErrors > 0 {
		return fmt.Errorf("cycle finished with %d errors", cycle.TotalErrors)
	}
	return nil
}
