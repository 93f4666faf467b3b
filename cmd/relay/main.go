package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/uptrace/bun"

	"github.com/busihe/chat-for-telemed/internal/server"
	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/internal/store/bunstore"
	"github.com/busihe/chat-for-telemed/internal/store/memstore"
	"github.com/busihe/chat-for-telemed/pkg/config"
	"github.com/busihe/chat-for-telemed/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var stores store.Stores
	if cfg.Database.DSN != "" {
		var db *bun.DB
		stores, db = bunstore.New(cfg.Database.DSN)
		defer db.Close()
		if err := bunstore.InitSchema(ctx, db); err != nil {
			logger.Error("Failed to initialize database schema", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Using PostgreSQL store")
	} else {
		stores = memstore.New()
		logger.Warn("No database DSN configured, using in-memory store")
	}

	app := server.NewApp(logger, ctx, cfg, stores)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
