package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedwatch/feedwatch/internal/app"
	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/metrics"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/scheduler"
	"github.com/feedwatch/feedwatch/internal/seenstate"
	"github.com/feedwatch/feedwatch/internal/server"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/targets"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(cfg.Level())
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting feedwatch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatalf("feedwatch failed: %v", err)
	}
	logrus.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, closeStorage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logrus.Errorf("Failed to close storage: %v", err)
		}
	}()

	fetcher := sources.NewHTTPFetcher(cfg.UserAgent, cfg.HTTPTimeout)
	defer fetcher.Close()

	notifier, err := app.NewNotifier(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	targetStore := targets.NewStore(backend, cfg.MinInterval)
	monitoringService := monitoring.NewService(app.NewPoller(cfg, fetcher), seenstate.NewStore(backend), notifier, cfg.SourceDelay)
	schedulerService := scheduler.NewService(monitoringService, notifier, scheduler.Options{
		MinInterval:       cfg.MinInterval,
		FallbackDelay:     cfg.FallbackDelay,
		HeartbeatSchedule: cfg.HeartbeatSchedule,
		HeartbeatChannel:  cfg.HeartbeatChannel,
	})

	if err := seedTargets(targetStore, cfg.TargetsFile); err != nil {
		return err
	}

	list, err := targetStore.List()
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	schedulerService.Apply(list)
	defer schedulerService.StopAll()

	if err := schedulerService.StartHeartbeat(); err != nil {
		return err
	}

	if cfg.WatchTargets {
		if _, statErr := os.Stat(cfg.TargetsFile); statErr == nil {
			err := targets.Watch(ctx, cfg.TargetsFile, func(fromFile []models.Target) {
				reloadTargets(targetStore, schedulerService, fromFile)
			})
			if err != nil {
				logrus.Warnf("Targets file will not be watched: %v", err)
			}
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      server.New(targetStore, schedulerService, monitoringService, registry).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual checks wait for a whole cycle
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down server...")

		// Create a deadline for shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// seedTargets inserts targets from the file that are not stored yet. A missing file is not an error.
func seedTargets(store *targets.Store, path string) error {
	fromFile, err := targets.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Infof("No targets file at %s, using stored targets only", path)
		return nil
	}
	if err != nil {
		return err
	}

	n, err := store.Seed(fromFile, false)
	if err != nil {
		return fmt.Errorf("failed to seed targets: %w", err)
	}
	logrus.Infof("Seeded %d new targets from %s", n, path)
	return nil
}

// reloadTargets overwrites stored targets with the edited file and reconciles the loops.
func reloadTargets(store *targets.Store, sched *scheduler.Service, fromFile []models.Target) {
	if _, err := store.Seed(fromFile, true); err != nil {
		logrus.Errorf("Rejected targets file change: %v", err)
		return
	}
	list, err := store.List()
	if err != nil {
		logrus.Errorf("Failed to list targets: %v", err)
		return
	}
	sched.Apply(list)
}
