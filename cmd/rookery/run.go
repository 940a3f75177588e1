package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/rookery/pkg/api"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/health"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/manager"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/reconciler"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a manager process",
	Long: `Run a manager process. Every manager observes the configured nodes and
publishes its view; the one holding leadership makes failover decisions.

Start one manager per failure domain, at least three for the majority policy.`,
	RunE: runManager,
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(cfg.LogConfig())
	metrics.SetVersion(Version)
	logger := log.WithManagerID(cfg.ManagerID)

	c, err := openCoordinator(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	metrics.RegisterComponent(metrics.ComponentCoordinator, true, "")

	store := storage.NewTopologyStore(c, cfg.BasePath)

	journal, err := storage.OpenJournal(cfg.DataDir, cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	broker := events.NewBroker()
	broker.Start()
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		journal.Record(broker.Subscribe())
	}()
	defer func() {
		broker.Stop()
		<-recorded
	}()

	mcfg, err := cfg.ManagerConfig()
	if err != nil {
		return err
	}

	factory := node.RedisFactory(cfg.RedisNodeConfig())
	monitor := health.NewMonitor(cfg.ManagerID, store, factory, cfg.HealthConfig())
	mgr := manager.NewManager(mcfg, store, monitor, factory, broker)
	monitor.SetSink(mgr.Report)
	c.OnDisconnect(monitor.Invalidate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info().
		Strs("nodes", cfg.Nodes).
		Str("policy", string(mcfg.Policy)).
		Str("coordinator", cfg.Coordinator.Backend).
		Str("base_path", cfg.BasePath).
		Msg("Starting manager")

	monitor.Start(ctx, mcfg.Nodes...)

	mgrDone := make(chan error, 1)
	go func() {
		mgrDone <- mgr.Run(ctx)
	}()

	recon := reconciler.NewReconciler(mgr, cfg.ReconcileInterval)
	recon.Start()

	collector := metrics.NewCollector(mgr, 5*time.Second)
	collector.Start()

	errCh := make(chan error, 2)

	var httpServer *api.HealthServer
	if cfg.API.HTTPAddr != "" {
		httpServer = api.NewHealthServer(mgr, store, journal)
		go func() {
			if err := httpServer.Start(cfg.API.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
		logger.Info().Str("addr", cfg.API.HTTPAddr).Msg("HTTP endpoints listening")
	}

	var grpcServer *api.Server
	if cfg.API.GRPCAddr != "" {
		grpcServer = api.NewServer(mgr)
		go grpcServer.Watch(ctx, time.Second)
		go func() {
			if err := grpcServer.Start(cfg.API.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	mgrStopped := false
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down")
	case runErr = <-mgrDone:
		mgrStopped = true
		logger.Error().Err(runErr).Msg("Manager stopped")
	}

	cancel()
	if !mgrStopped {
		select {
		case <-mgrDone:
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("Manager did not stop in time")
		}
	}

	recon.Stop()
	collector.Stop()
	monitor.Stop()

	if grpcServer != nil {
		grpcServer.Stop()
	}
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}
