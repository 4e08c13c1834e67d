package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/config"
	httpserver "github.com/tashad19/Virtual-experiment-sandbox/internal/http"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	srv, err := httpserver.NewServer(cfg, log)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
	}
	if err := srv.Close(); err != nil {
		log.Warn("close server", "error", err)
	}
	log.Info("server stopped")
}
