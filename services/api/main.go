package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/urban-heat-differential/internal/db"
	"github.com/02loveslollipop/urban-heat-differential/internal/logging"
	"github.com/02loveslollipop/urban-heat-differential/internal/metrics"
	"github.com/02loveslollipop/urban-heat-differential/services/api/config"
	httpserver "github.com/02loveslollipop/urban-heat-differential/services/api/http"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.AppEnv, cfg.LogLevel, "urban-heat-api", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	srv := httpserver.New(cfg, store, metrics.New(), logger)
	logger.Info("REST API listening", "addr", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "err", err)
		cancel()
		store.Close()
		log.Fatalf("server error: %v", err)
	}
}
