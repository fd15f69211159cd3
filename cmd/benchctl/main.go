// Package main provides the entry point for running one benchmark scenario.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/narvanalabs/benchctl/internal/campaign"
	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/placement"
	"github.com/narvanalabs/benchctl/internal/remote"
	"github.com/narvanalabs/benchctl/internal/scenario"
	"github.com/narvanalabs/benchctl/internal/shutdown"
	"github.com/narvanalabs/benchctl/internal/store"
	"github.com/narvanalabs/benchctl/internal/store/memory"
	pgstore "github.com/narvanalabs/benchctl/internal/store/postgres"
	"github.com/narvanalabs/benchctl/internal/supervisor"
	"github.com/narvanalabs/benchctl/pkg/config"
	"github.com/narvanalabs/benchctl/pkg/logger"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to the scenario descriptor")
	noStore := flag.Bool("no-store", false, "keep the result in memory instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	if *scenarioPath == "" {
		log.Error("missing -scenario")
		os.Exit(2)
	}

	os.Exit(run(cfg, log, *scenarioPath, *noStore))
}

func run(cfg *config.Config, log *logger.Logger, path string, noStore bool) int {
	// Scenario errors are fatal before any node is contacted.
	sc, err := scenario.Load(path)
	if err != nil {
		log.WithError(err).Error("invalid scenario", "path", path)
		return 1
	}
	log = log.WithScenario(sc.Hash())

	results, err := openStore(cfg, log, noStore)
	if err != nil {
		log.WithError(err).Error("failed to open result store")
		return 1
	}

	exec, err := remote.NewSSHExecutor(&remote.SSHConfig{
		KeyFile:        cfg.SSH.KeyFile,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		DialTimeout:    cfg.SSH.DialTimeout,
	}, log.WithComponent("remote").Logger)
	if err != nil {
		log.WithError(err).Error("failed to initialize ssh")
		results.Close()
		return 1
	}

	sup := supervisor.New(
		supervisor.WithRetryStrategy(&supervisor.RetryStrategy{
			PollInterval:    cfg.Supervisor.PollInterval,
			MaxAttempts:     cfg.Supervisor.MaxAttempts,
			BackoffDuration: cfg.Supervisor.Backoff,
			MaxBackoff:      cfg.Supervisor.MaxBackoff,
		}),
		supervisor.WithLogger(log.WithComponent("supervisor").Logger),
	)

	session, err := campaign.NewSession(sc, campaign.Config{
		Nodes:         cfg.Nodes.Addresses,
		Capacity:      cfg.Nodes.Capacity,
		NodeUser:      cfg.Nodes.User,
		PortBase:      cfg.Nodes.PortBase,
		Strategy:      placement.FromName(cfg.Nodes.Placement, cfg.Nodes.PlacementTarget),
		VMUser:        cfg.SSH.VMUser,
		PublicKeyFile: cfg.SSH.PublicKeyFile,
		AssetsDir:     cfg.Assets.Dir,
		WorkDir:       cfg.Assets.WorkDir,
		MonitorDelay:  cfg.Timeline.MonitorDelay,
		SettleDelay:   cfg.Timeline.SettleDelay,
	}, exec, results,
		campaign.WithSupervisor(sup),
		campaign.WithLogger(log.WithComponent("campaign").Logger),
	)
	if err != nil {
		log.WithError(err).Error("failed to create session")
		results.Close()
		return 1
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("result-store", results))
	coordinator.Register(shutdown.NewFuncComponent("campaign", session.Teardown))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithSessionID(ctx, session.ID())
	ctx = logger.ContextWithScenario(ctx, sc.Hash())
	clog := log.WithContext(ctx)

	clog.Info("starting campaign", "nodes", len(cfg.Nodes.Addresses), "vms", len(sc.Bindings))
	result, err := execute(ctx, session)

	coordinator.Shutdown()
	coordinator.Wait()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			clog.Warn("campaign aborted")
		} else {
			clog.WithError(err).Error("campaign failed")
		}
		return 1
	}

	clog.Info("campaign finished",
		"result_id", result.ID,
		"vms", len(result.Outputs),
		"unallocated", len(result.Unallocated),
	)
	return coordinator.ExitCode()
}

func execute(ctx context.Context, session *campaign.Session) (*models.Result, error) {
	if err := session.Configure(ctx); err != nil {
		return nil, fmt.Errorf("configuring: %w", err)
	}
	if err := session.Run(ctx); err != nil {
		return nil, err
	}
	return session.Store(ctx)
}

func openStore(cfg *config.Config, log *logger.Logger, noStore bool) (store.ResultStore, error) {
	if noStore {
		log.Warn("results will not be persisted")
		return memory.New(), nil
	}
	pg, err := pgstore.Open(pgstore.DefaultConfig(cfg.DatabaseDSN), log.WithComponent("store").Logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
