package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/socialboost/panel/internal/api"
	"github.com/socialboost/panel/internal/auth"
	"github.com/socialboost/panel/internal/catalog"
	"github.com/socialboost/panel/internal/config"
	"github.com/socialboost/panel/internal/db"
	"github.com/socialboost/panel/internal/ledger"
	"github.com/socialboost/panel/internal/orders"
	"github.com/socialboost/panel/internal/provider"
)

// Main entry point: sets up database, services, and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	gateway := provider.NewClient(cfg.ProviderTimeout)
	led := ledger.New(database, logger)
	ord := orders.New(database, led, gateway, logger)
	syncer := catalog.NewSyncer(database, gateway, logger)
	authService := auth.NewAuthService(database, []byte(cfg.JWTSecret))

	handler := api.NewHandler(database, ord, led, authService, syncer, logger)
	router := api.NewRouter(handler)

	// Periodic reconciliation of in-progress orders against providers.
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := ord.ReconcileAll(ctx)
			if err != nil {
				logger.Error("reconcile sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("reconcile sweep finished", zap.Int("orders", n))
			}
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
