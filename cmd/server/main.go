// Copilot Relay - chat orchestration server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/copilot-relay/internal/config"
	"github.com/ashureev/copilot-relay/internal/store"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "copilot-relay",
	Short:   "Chat orchestration server for multiple LLM backends",
	Version: version,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, tokenCmd, healthcheckCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// openRepository connects the configured store driver and verifies it is reachable.
func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	var (
		repo store.Repository
		err  error
	)
	switch cfg.StoreDriver {
	case config.DriverMongo:
		repo, err = store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		repo, err = store.NewSQLite(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.StoreDriver, err)
	}

	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	slog.Info("Database connected", "driver", cfg.StoreDriver)
	return repo, nil
}

func closeRepository(repo store.Repository) {
	if err := repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}
