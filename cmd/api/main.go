// Package main provides the entry point for the results API server.
package main

import (
	"context"
	"os"

	"github.com/narvanalabs/benchctl/internal/api"
	"github.com/narvanalabs/benchctl/internal/shutdown"
	pgstore "github.com/narvanalabs/benchctl/internal/store/postgres"
	"github.com/narvanalabs/benchctl/pkg/config"
	"github.com/narvanalabs/benchctl/pkg/logger"
)

func main() {
	// The API only needs the store and listener settings, not the node pool.
	cfg := config.LoadWithDefaults()
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	results, err := pgstore.Open(pgstore.DefaultConfig(cfg.DatabaseDSN), log.WithComponent("store").Logger)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	server := api.NewServer(cfg, results, log.WithComponent("api").Logger)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("result-store", results))
	coordinator.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	// A signal shuts the HTTP server down, which returns Start. A listener
	// failure cancels ctx so the coordinator still releases the store.
	ctx, cancel := context.WithCancel(context.Background())
	go coordinator.WaitForSignal(ctx)

	err = server.Start(ctx)
	cancel()
	coordinator.Wait()

	if err != nil {
		log.WithError(err).Error("server error")
		os.Exit(1)
	}
	log.Info("server stopped")
	os.Exit(coordinator.ExitCode())
}
