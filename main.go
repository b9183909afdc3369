package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tigsync/internal/config"
	"tigsync/internal/logging"
	"tigsync/internal/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to the server config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	// Initialize logger
	logger, err := logging.NewLoggerWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("failed to release resources", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("server failed", zap.Error(runErr))
	}
}
