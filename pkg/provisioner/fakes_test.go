package provisioner

import (
	"context"
	"sync"
	"time"

	"github.com/DEVunderdog/NeuroAgent/pkg/cloud"
	"github.com/DEVunderdog/NeuroAgent/pkg/indexrepo"
)

// fakeRepo is an in-memory stand-in for indexrepo.Store, guarded by a mutex
// so concurrent reconcile tasks and property tests can drive it safely.
type fakeRepo struct {
	mu         sync.Mutex
	nextID     int64
	rows       map[int64]indexrepo.VectorIndex
	linkedToKB map[int64]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:       make(map[int64]indexrepo.VectorIndex),
		linkedToKB: make(map[int64]bool),
	}
}

// linkToKB simulates a KnowledgeBase referencing this index, for cleanup-safety assertions.
func (f *fakeRepo) linkToKB(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkedToKB[id] = true
}

func (f *fakeRepo) seedAvailable(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.nextID++
		f.rows[f.nextID] = indexrepo.VectorIndex{
			ID:        f.nextID,
			IndexARN:  "seed-arn",
			BucketARN: "seed-bucket",
			Status:    indexrepo.StatusAvailable,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}
}

func (f *fakeRepo) ReserveAvailableIndex(ctx context.Context) (indexrepo.VectorIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.Status == indexrepo.StatusAvailable {
			row.Status = indexrepo.StatusAssigned
			f.rows[id] = row
			return row, nil
		}
	}
	return indexrepo.VectorIndex{}, indexrepo.ErrNoCapacity
}

func (f *fakeRepo) InsertProvisioning(ctx context.Context, indexARN, bucketARN string) (indexrepo.VectorIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	row := indexrepo.VectorIndex{
		ID:        f.nextID,
		IndexARN:  indexARN,
		BucketARN: bucketARN,
		Status:    indexrepo.StatusProvisioning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeRepo) MarkAvailable(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != indexrepo.StatusProvisioning {
		return indexrepo.ErrNotFound
	}
	row.Status = indexrepo.StatusAvailable
	f.rows[id] = row
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return indexrepo.ErrNotFound
	}
	row.Status = indexrepo.StatusFailed
	f.rows[id] = row
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return indexrepo.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRepo) ListForCleanup(ctx context.Context, stuckAfter time.Time) ([]indexrepo.VectorIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []indexrepo.VectorIndex
	for _, row := range f.rows {
		switch {
		case row.Status == indexrepo.StatusFailed:
			out = append(out, row)
		case row.Status == indexrepo.StatusProvisioning && row.CreatedAt.Before(stuckAfter):
			out = append(out, row)
		case row.Status == indexrepo.StatusCleanup && !f.referencedLocked(row.ID):
			out = append(out, row)
		}
	}
	return out, nil
}

// referencedLocked reports whether id is linked to a KB, without re-locking
// (caller already holds f.mu).
func (f *fakeRepo) referencedLocked(id int64) bool {
	return f.linkedToKB[id]
}

func (f *fakeRepo) PoolStats(ctx context.Context, freshnessWindow time.Duration) (indexrepo.PoolStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats indexrepo.PoolStats
	freshSince := time.Now().Add(-freshnessWindow)
	for _, row := range f.rows {
		switch row.Status {
		case indexrepo.StatusAvailable:
			stats.AvailableCount++
		case indexrepo.StatusProvisioning:
			if freshnessWindow <= 0 || !row.CreatedAt.Before(freshSince) {
				stats.ProvisioningCount++
			}
		case indexrepo.StatusAssigned:
			stats.AssignedCount++
		case indexrepo.StatusCleanup:
			stats.CleanupCount++
		case indexrepo.StatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (f *fakeRepo) count(status indexrepo.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.Status == status {
			n++
		}
	}
	return n
}

// fakeCloud is an in-memory stand-in for cloud.Adapter. Inject createErr/
// deleteErr to simulate remote failures; the injected error applies to
// every subsequent call.
type fakeCloud struct {
	mu sync.Mutex

	createErr error
	deleteErr error

	createCalls []string
	deleteCalls []string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{}
}

func (f *fakeCloud) CreateIndex(ctx context.Context, p cloud.CreateIndexParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, p.IndexName)
	return f.createErr
}

func (f *fakeCloud) DeleteIndex(ctx context.Context, bucketName, indexARN string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, indexARN)
	return f.deleteErr
}

func (f *fakeCloud) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls)
}

func (f *fakeCloud) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleteCalls)
}

// noopMetrics discards every observation; used by tests that don't assert on metrics.
type noopMetrics struct{}

func (noopMetrics) ReconcileCycle(string)   {}
func (noopMetrics) CleanupCycle(string)     {}
func (noopMetrics) IndexCreated()           {}
func (noopMetrics) IndexDeleted()           {}
func (noopMetrics) TaskError(string)        {}
func (noopMetrics) PoolAvailable(float64)   {}

func testConfig() Config {
	return Config{
		MinPool:           3,
		MaxProvisioner:    4,
		TStuck:            10 * time.Minute,
		TReconcile:        300 * time.Second,
		BucketARN:         "arn:aws:s3vectors:us-east-1:123456789012:bucket/test",
		BucketName:        "test-bucket",
		Dimension:         1024,
		NonFilterableKeys: []string{"file_name", "doc_id"},
	}
}
