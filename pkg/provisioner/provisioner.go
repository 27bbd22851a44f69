// Package provisioner drives the VectorIndex pool: reconciliation (keeping
// the AVAILABLE+fresh-PROVISIONING count at or above a floor) and cleanup
// (tearing down FAILED, stuck-PROVISIONING, and orphaned-CLEANUP records).
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DEVunderdog/NeuroAgent/pkg/cloud"
	"github.com/DEVunderdog/NeuroAgent/pkg/indexrepo"
	"github.com/DEVunderdog/NeuroAgent/pkg/trigger"
)

// Error kinds stable across layers; request-facing code translates these
// 1:1 into HTTP statuses.
var (
	ErrInconsistency = errors.New("provisioner: db/remote inconsistency")
)

// Repo is the subset of indexrepo.Store the provisioner depends on. It is
// defined here, not in indexrepo, so tests can supply a hand-written fake
// without importing the SQL store. *indexrepo.Store satisfies it directly.
type Repo interface {
	ReserveAvailableIndex(ctx context.Context) (indexrepo.VectorIndex, error)
	InsertProvisioning(ctx context.Context, indexARN, bucketARN string) (indexrepo.VectorIndex, error)
	MarkAvailable(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	ListForCleanup(ctx context.Context, stuckAfter time.Time) ([]indexrepo.VectorIndex, error)
	PoolStats(ctx context.Context, freshnessWindow time.Duration) (indexrepo.PoolStats, error)
}

// CloudAdapter is the subset of cloud.Adapter the provisioner depends on.
type CloudAdapter interface {
	CreateIndex(ctx context.Context, p cloud.CreateIndexParams) error
	DeleteIndex(ctx context.Context, bucketName, indexARN string) error
}

// Metrics is the subset of telemetry counters the provisioner updates.
// Implementations backed by prometheus counters are optional; a nil Metrics
// is never passed — callers wire telemetry.ProvisionerMetrics, which satisfies this.
type Metrics interface {
	ReconcileCycle(outcome string)
	CleanupCycle(outcome string)
	IndexCreated()
	IndexDeleted()
	TaskError(kind string)
	PoolAvailable(n float64)
}

// Config holds the tunables from §5 of the system's concurrency model.
type Config struct {
	MinPool           int
	MaxProvisioner    int
	TStuck            time.Duration
	TReconcile        time.Duration
	BucketARN         string
	BucketName        string
	Dimension         int32
	NonFilterableKeys []string
}

// Provisioner owns the reconcile/cleanup control loops.
type Provisioner struct {
	repo    Repo
	cloud   CloudAdapter
	cfg     Config
	metrics Metrics
	log     *slog.Logger

	reconcileBus *trigger.Bus
	cleanupBus   *trigger.Bus
}

// New constructs a Provisioner with its own reconcile and cleanup Bus
// instances, shared by the workers and TriggerReconcile/TriggerCleanup.
func New(repo Repo, adapter CloudAdapter, cfg Config, metrics Metrics, log *slog.Logger) *Provisioner {
	return &Provisioner{
		repo:         repo,
		cloud:        adapter,
		cfg:          cfg,
		metrics:      metrics,
		log:          log,
		reconcileBus: trigger.NewBus(),
		cleanupBus:   trigger.NewBus(),
	}
}

// TriggerReconcile requests a reconcile pass; coalesces with any pending request.
func (p *Provisioner) TriggerReconcile() {
	p.reconcileBus.Fire()
}

// TriggerCleanup requests a cleanup pass; coalesces with any pending request.
func (p *Provisioner) TriggerCleanup() {
	p.cleanupBus.Fire()
}

// Prime runs one synchronous reconciliation pass so the pool is warm before
// the process starts serving traffic.
func (p *Provisioner) Prime(ctx context.Context) error {
	return p.reconcile(ctx)
}

// ScheduledCleanup is the entry point the external Scheduler calls.
func (p *Provisioner) ScheduledCleanup(ctx context.Context) error {
	return p.cleanupIndexes(ctx)
}

// ReconcileWorker runs one reconciliation at startup, then loops on
// select{triggered, timeout(TReconcile)} until ctx is cancelled.
func (p *Provisioner) ReconcileWorker(ctx context.Context) {
	if err := p.reconcile(ctx); err != nil {
		p.log.Error("initial reconciliation failed, worker will continue", "error", err)
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, p.cfg.TReconcile)
		err := p.reconcileBus.Wait(waitCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			p.reconcileBus.Drain()
			p.log.Info("event driven reconcile trigger received")
		} else {
			p.log.Info("starting periodic reconciliation")
		}

		if err := p.reconcile(ctx); err != nil {
			p.log.Error("reconciliation cycle failed", "error", err)
		}
	}
}

// CleanupWorker loops on the cleanup trigger only; the periodic sweep is
// delivered externally via ScheduledCleanup.
func (p *Provisioner) CleanupWorker(ctx context.Context) {
	for {
		if err := p.cleanupBus.Wait(ctx); err != nil {
			return
		}
		p.cleanupBus.Drain()
		p.log.Info("event driven cleanup trigger received")

		if err := p.cleanupIndexes(ctx); err != nil {
			p.log.Error("cleanup cycle failed", "error", err)
		}
	}
}

// reconcile implements §4.4's reconciliation algorithm.
func (p *Provisioner) reconcile(ctx context.Context) error {
	stats, err := p.repo.PoolStats(ctx, p.cfg.TStuck)
	if err != nil {
		return fmt.Errorf("reading pool stats: %w", err)
	}
	p.metrics.PoolAvailable(float64(stats.AvailableCount))

	effective := stats.AvailableCount + stats.ProvisioningCount
	if effective >= p.cfg.MinPool {
		p.metrics.ReconcileCycle("noop")
		return nil
	}
	need := p.cfg.MinPool - effective

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxProvisioner)

	for i := 0; i < need; i++ {
		g.Go(func() error {
			if err := p.provisionNewIndex(gctx); err != nil {
				p.log.Error("provisioning task failed", "error", err)
				return err
			}
			return nil
		})
	}

	// A failing task never terminates the worker: errgroup.Wait's error is
	// logged by the caller, never propagated as fatal.
	if err := g.Wait(); err != nil {
		p.metrics.ReconcileCycle("error")
		return fmt.Errorf("reconciliation failed during provision of indexes: %w", err)
	}

	p.metrics.ReconcileCycle("ok")
	p.log.Info("index reconciliation cycle finished", "provisioned", need)
	return nil
}

// provisionNewIndex runs the three-phase commit for one new index: DB
// reserve, remote create, DB finalize. Each phase has a compensating action
// (see DESIGN.md for the resolved Phase-C policy: an inline compensating
// delete on a vanished row, not a re-inserted FAILED record).
func (p *Provisioner) provisionNewIndex(ctx context.Context) error {
	indexName := uuid.NewString()
	indexARN := fmt.Sprintf("%s/index/%s", p.cfg.BucketARN, indexName)

	// Phase A: DB reserve.
	inserted, err := p.repo.InsertProvisioning(ctx, indexARN, p.cfg.BucketARN)
	if err != nil {
		p.metrics.TaskError("db_insert")
		return fmt.Errorf("initiating vector index creation: %w", err)
	}

	// Phase B: remote create.
	createErr := p.cloud.CreateIndex(ctx, cloud.CreateIndexParams{
		BucketARN:         p.cfg.BucketARN,
		IndexName:         indexName,
		Dimension:         p.cfg.Dimension,
		NonFilterableKeys: p.cfg.NonFilterableKeys,
	})
	if createErr != nil {
		p.metrics.TaskError("remote_create")
		if delErr := p.repo.Delete(ctx, inserted.ID); delErr != nil && !errors.Is(delErr, indexrepo.ErrNotFound) {
			p.log.Error("error deleting initiated vector index record after remote create failure",
				"index_id", inserted.ID, "error", delErr)
		}
		return fmt.Errorf("creating vector index: %w", createErr)
	}
	p.metrics.IndexCreated()

	// Phase C: DB finalize. MarkAvailable is a guarded update
	// (WHERE status='PROVISIONING'); if the row vanished between B and C
	// the finalize is a no-op, and this branch immediately issues a
	// compensating delete_index using the ARN still held in memory rather
	// than waiting for the next sweep — delete is idempotent, so a
	// concurrent sweep racing the same cleanup is safe.
	if err := p.repo.MarkAvailable(ctx, inserted.ID); err != nil {
		if errors.Is(err, indexrepo.ErrNotFound) {
			p.metrics.TaskError("inconsistency")
			if delErr := p.cloud.DeleteIndex(ctx, p.cfg.BucketName, indexARN); delErr != nil {
				p.log.Error("compensating delete_index failed after vanished provisioning row",
					"index_arn", indexARN, "error", delErr)
			}
			return fmt.Errorf("finalizing provisioned index id %d: %w", inserted.ID, ErrInconsistency)
		}
		p.metrics.TaskError("db_finalize")
		return fmt.Errorf("finalizing provisioned index: %w", err)
	}

	p.log.Info("successfully provisioned a vector index", "index_id", inserted.ID, "index_arn", indexARN)
	return nil
}

// cleanupIndexes implements §4.4's cleanup algorithm.
func (p *Provisioner) cleanupIndexes(ctx context.Context) error {
	candidates, err := p.repo.ListForCleanup(ctx, time.Now().Add(-p.cfg.TStuck))
	if err != nil {
		p.metrics.CleanupCycle("error")
		return fmt.Errorf("listing cleanup candidates: %w", err)
	}
	if len(candidates) == 0 {
		p.metrics.CleanupCycle("noop")
		return nil
	}
	p.log.Info("found candidates for cleanup", "count", len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxProvisioner)

	for _, idx := range candidates {
		g.Go(func() error {
			return p.cleanupOne(gctx, idx)
		})
	}

	if err := g.Wait(); err != nil {
		p.metrics.CleanupCycle("error")
		return fmt.Errorf("cleanup cycle finished with errors: %w", err)
	}

	p.metrics.CleanupCycle("ok")
	p.log.Info("indexes cleanup cycle finished")
	return nil
}

func (p *Provisioner) cleanupOne(ctx context.Context, idx indexrepo.VectorIndex) error {
	if err := p.cloud.DeleteIndex(ctx, p.cfg.BucketName, idx.IndexARN); err != nil {
		p.metrics.TaskError("remote_delete")
		p.log.Error("error dropping index from bucket", "index_id", idx.ID, "index_arn", idx.IndexARN, "error", err)
		return fmt.Errorf("dropping index %s from bucket: %w", idx.IndexARN, err)
	}
	p.metrics.IndexDeleted()

	if err := p.repo.Delete(ctx, idx.ID); err != nil && !errors.Is(err, indexrepo.ErrNotFound) {
		p.metrics.TaskError("db_delete")
		p.log.Error("error dropping index record in database after remote delete succeeded",
			"index_id", idx.ID, "error", err)
		return fmt.Errorf("deleting index record %d: %w", idx.ID, err)
	}
	return nil
}
