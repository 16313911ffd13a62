package main

import (
	"context"
	"os"

	"filecollection/internal/config"
	"filecollection/internal/database"
	"filecollection/internal/logging"
	"filecollection/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		logger.Error("apply migrations", "error", err)
		os.Exit(1)
	}

	logger.Info("migrations applied", "count", len(applied))
}
