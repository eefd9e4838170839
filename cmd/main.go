package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sceneflow/internal/adapters/app"
	"sceneflow/internal/adapters/db/repository"
	"sceneflow/internal/core/services"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

func main() {
	// Parsing flags
	flags, err := services.FlagParse()
	if err != nil {
		fmt.Println(err)
		services.AppUsage()
		os.Exit(1)
	}

	// Loading config
	cfg, err := config.LoadConfig(flags.ConfigPath)
	if err != nil {
		fmt.Printf("cannot load the config properly: %v\n", err)
		os.Exit(1)
	}

	logger := logger.NewLogger(flags.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initializing repository
	repo, err := repository.NewRepository(ctx, *cfg)
	if err != nil {
		logger.Error("", "db_connection_failed", "Database is unreachable after all retries", err, nil)
		os.Exit(1)
	}
	logger.Info("", "db_connected", "Connected to PostgreSQL database", map[string]interface{}{"duration_ms": repo.DurationMs})

	switch flags.Mode {
	case "api-service":
		app.API(ctx, logger, repo, *cfg, flags, stop)
	case "production-runner":
		app.ProductionRunner(ctx, logger, repo, *cfg, flags)
	}
}
