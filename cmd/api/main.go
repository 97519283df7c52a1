package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/infra/app"
	"github.com/arklim/taskhub-auth/internal/infra/config"
	"github.com/arklim/taskhub-auth/internal/infra/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to init app", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		appLogger.Error("application stopped", zap.Error(err))
		os.Exit(1)
	}
}
