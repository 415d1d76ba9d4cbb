package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/blacknout/nomada-backend-sub000/internal/server"
	"github.com/blacknout/nomada-backend-sub000/internal/store"
	"github.com/blacknout/nomada-backend-sub000/pkg/config"
	"github.com/blacknout/nomada-backend-sub000/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to ensure database schema", slog.Any("error", err))
		os.Exit(1)
	}

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
