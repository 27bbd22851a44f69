// Package app wires configuration, infrastructure clients, and domain
// packages into the two runtime modes this module supports: "api" (HTTP
// facade) and "worker" (provisioner control loops + scheduled cleanup).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/DEVunderdog/NeuroAgent/internal/config"
	"github.com/DEVunderdog/NeuroAgent/internal/httpserver"
	"github.com/DEVunderdog/NeuroAgent/internal/platform"
	"github.com/DEVunderdog/NeuroAgent/internal/telemetry"
	"github.com/DEVunderdog/NeuroAgent/pkg/cloud"
	"github.com/DEVunderdog/NeuroAgent/pkg/facade"
	"github.com/DEVunderdog/NeuroAgent/pkg/indexrepo"
	"github.com/DEVunderdog/NeuroAgent/pkg/provisioner"
	"github.com/DEVunderdog/NeuroAgent/pkg/scheduler"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting neuroagent", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, scheduler will fall back to single-process locking only", "error", err)
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error("closing redis", "error", err)
				}
			}()
		}
	}

	vectorAPI, err := cloud.NewVectorIndexAPI(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("initializing vector index client: %w", err)
	}
	queueAPI, err := cloud.NewQueueAPI(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("initializing queue client: %w", err)
	}
	cloudAdapter := cloud.New(vectorAPI, queueAPI, cfg.QueueURL)

	metricsReg := telemetry.NewRegistry(append(telemetry.All(), httpserver.MetricsCollectors()...)...)

	indexStore := indexrepo.NewStore(db)

	provCfg := provisioner.Config{
		MinPool:           cfg.MinIndexPool,
		MaxProvisioner:    cfg.MaxIndexProvision,
		TStuck:            cfg.TimeThreshold,
		TReconcile:        cfg.ReconcileInterval,
		BucketARN:         cfg.VectorBucketARN,
		BucketName:        cfg.VectorBucketName,
		Dimension:         cfg.EmbeddingDimension,
		NonFilterableKeys: cfg.NonFilterableKeys,
	}
	prov := provisioner.New(indexStore, cloudAdapter, provCfg, telemetry.ProvisionerMetrics{}, logger)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, prov, cloudAdapter)
	case "worker":
		return runWorker(ctx, cfg, logger, rdb, prov)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	prov *provisioner.Provisioner,
	cloudAdapter *cloud.Adapter,
) error {
	// The pool must be warm before the process accepts traffic.
	if err := prov.Prime(ctx); err != nil {
		logger.Error("initial pool prime failed, api will still start", "error", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go prov.ReconcileWorker(workerCtx)
	go prov.CleanupWorker(workerCtx)

	f := facade.New(db, prov, cloudAdapter)
	kbHandler := facade.NewHandler(logger, f)

	srv := httpserver.NewServer(logger, db, rdb, metricsReg, cfg.MetricsPath)
	srv.APIRouter.Mount("/kb", kbHandler.Routes())
	srv.APIRouter.Mount("/documents", kbHandler.DocumentRoutes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, prov *provisioner.Provisioner) error {
	logger.Info("worker started")

	if err := prov.Prime(ctx); err != nil {
		logger.Error("initial pool prime failed, worker will continue", "error", err)
	}

	var locker *scheduler.RedisLocker
	if rdb != nil {
		locker = scheduler.NewRedisLocker(rdb, "neuroagent:scheduled_cleanup", 30*time.Minute)
	} else {
		logger.Info("scheduler running without a redis lock; relies on single-process non-overlap only")
	}

	sched, err := scheduler.New(cfg.ScheduledCleanupTime, prov.ScheduledCleanup, locker, logger)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}
	sched.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prov.ReconcileWorker(gctx)
		return nil
	})
	g.Go(func() error {
		prov.CleanupWorker(gctx)
		return nil
	})

	<-ctx.Done()
	logger.Info("shutting down worker")
	return g.Wait()
}
