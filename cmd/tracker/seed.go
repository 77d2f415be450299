// cmd/tracker/seed.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"release-tracker/internal/config"
	"release-tracker/internal/model"
	"release-tracker/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load sources from a YAML seed file",
	Long: `Load release sources from a YAML file into the database. Existing
sources are matched by their client key and updated in place, so the
command is safe to re-run.

Example seed file:
  sources:
    - name: Geth
      client: geth
      repo_url: https://github.com/ethereum/go-ethereum
    - name: Lighthouse
      client: lighthouse
      repo_url: https://github.com/sigp/lighthouse
      repo_type: tags`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		return runSeed(path)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringP("file", "f", "", "path to seed file (required)")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(path string) error {
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)

	sources, err := config.LoadSeedFile(path)
	if err != nil {
		return err
	}

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
	for _, s := range sources {
		saved, err := st.UpsertSource(ctx, store.SourceParams{
			Name:     s.Name,
			Client:   s.Client,
			RepoURL:  s.RepoURL,
			RepoType: model.RepoType(s.RepoType),
		})
		if err != nil {
			return fmt.Errorf("seed source %s: %w", s.Client, err)
		}
		logger.Info("Source seeded", "id", saved.ID, "client", saved.Client, "repo_type", saved.RepoType)
	}

	logger.Info("Seeding complete", "count", len(sources))
	return nil
}
