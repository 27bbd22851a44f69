package facade

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DEVunderdog/NeuroAgent/internal/platform/testdb"
	"github.com/DEVunderdog/NeuroAgent/pkg/cloud"
	"github.com/DEVunderdog/NeuroAgent/pkg/indexrepo"
	"github.com/DEVunderdog/NeuroAgent/pkg/kb"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NEUROAGENT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NEUROAGENT_TEST_DATABASE_URL not set; skipping DB-backed test")
	}
	return url
}

type fakeTrigger struct {
	mu             sync.Mutex
	reconcileCalls int
	cleanupCalls   int
}

func (f *fakeTrigger) TriggerReconcile() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls++
}

func (f *fakeTrigger) TriggerCleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
}

type fakeQueue struct {
	mu       sync.Mutex
	sendErr  error
	messages []cloud.QueueMessage
}

func (f *fakeQueue) SendQueueMessage(_ context.Context, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	var msg cloud.QueueMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newTestFacade(t *testing.T) (*Facade, *fakeTrigger, *fakeQueue, *indexrepo.Store) {
	t.Helper()
	url := testDatabaseURL(t)

	if err := testdb.Setup(url); err != nil {
		t.Fatalf("testdb.Setup() error = %v", err)
	}
	t.Cleanup(func() {
		if err := testdb.Teardown(url); err != nil {
			t.Errorf("testdb.Teardown() error = %v", err)
		}
	})

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	trigger := &fakeTrigger{}
	queue := &fakeQueue{}
	f := New(pool, trigger, queue)
	return f, trigger, queue, indexrepo.NewStore(pool)
}

func availableIndex(t *testing.T, ir *indexrepo.Store, arn string) int64 {
	t.Helper()
	idx, err := ir.InsertProvisioning(context.Background(), arn, "arn:test:bucket")
	if err != nil {
		t.Fatalf("InsertProvisioning() error = %v", err)
	}
	if err := ir.MarkAvailable(context.Background(), idx.ID); err != nil {
		t.Fatalf("MarkAvailable() error = %v", err)
	}
	return idx.ID
}

func TestCreateKB_ReturnsRetryableWithoutCapacityAndSkipsReconcile(t *testing.T) {
	f, trigger, _, _ := newTestFacade(t)
	ctx := context.Background()

	if _, err := f.CreateKB(ctx, 1, "empty-pool"); err != ErrRetryable {
		t.Fatalf("expected ErrRetryable with no available index, got %v", err)
	}
	if trigger.reconcileCalls != 0 {
		t.Errorf("expected no TriggerReconcile call on failure, got %d", trigger.reconcileCalls)
	}
}

func TestCreateKB_SucceedsAndFiresReconcile(t *testing.T) {
	f, trigger, _, ir := newTestFacade(t)
	ctx := context.Background()

	availableIndex(t, ir, "arn:test:facade-create")

	view, err := f.CreateKB(ctx, 1, "docs")
	if err != nil {
		t.Fatalf("CreateKB() error = %v", err)
	}
	if view.Name != "docs" {
		t.Errorf("view.Name = %q, want %q", view.Name, "docs")
	}
	if trigger.reconcileCalls != 1 {
		t.Errorf("expected 1 TriggerReconcile call, got %d", trigger.reconcileCalls)
	}
}

func TestDeleteKB_FiresCleanupAndReportsNotFound(t *testing.T) {
	f, trigger, _, ir := newTestFacade(t)
	ctx := context.Background()

	availableIndex(t, ir, "arn:test:facade-delete")
	created, err := f.CreateKB(ctx, 2, "to-delete")
	if err != nil {
		t.Fatalf("CreateKB() error = %v", err)
	}

	if err := f.DeleteKB(ctx, 2, created.ID); err != nil {
		t.Fatalf("DeleteKB() error = %v", err)
	}
	if trigger.cleanupCalls != 1 {
		t.Errorf("expected 1 TriggerCleanup call, got %d", trigger.cleanupCalls)
	}

	if err := f.DeleteKB(ctx, 2, created.ID); err != kb.ErrNotFound {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestIngestDocuments_SendsQueueMessageAndLinksRows(t *testing.T) {
	f, _, queue, ir := newTestFacade(t)
	ctx := context.Background()

	availableIndex(t, ir, "arn:test:facade-ingest")
	created, err := f.CreateKB(ctx, 5, "ingest-target")
	if err != nil {
		t.Fatalf("CreateKB() error = %v", err)
	}

	entry, err := f.kbStore.CreateRegistryEntry(ctx, 5, "report.pdf", "objects/report.pdf")
	if err != nil {
		t.Fatalf("CreateRegistryEntry() error = %v", err)
	}

	jobID, err := f.IngestDocuments(ctx, 5, created.ID, []int64{entry.ID})
	if err != nil {
		t.Fatalf("IngestDocuments() error = %v", err)
	}
	if jobID == 0 {
		t.Error("expected non-zero ingestion job id")
	}

	if len(queue.messages) != 1 {
		t.Fatalf("expected 1 queue message, got %d", len(queue.messages))
	}
	msg := queue.messages[0]
	if len(msg.IndexKBDocID) != 1 || msg.IndexKBDocID[0].DocID != entry.ID {
		t.Errorf("unexpected IndexKBDocID payload: %+v", msg.IndexKBDocID)
	}
	if msg.DeleteKBDocID != nil {
		t.Errorf("expected no DeleteKBDocID on an insert, got %+v", msg.DeleteKBDocID)
	}

	docs, total, err := f.ListKBDocs(ctx, 5, created.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListKBDocs() error = %v", err)
	}
	if total != 1 || len(docs) != 1 {
		t.Fatalf("expected 1 linked document, got total=%d len=%d", total, len(docs))
	}
}

func TestIngestDocuments_QueueFailureRollsBackMembership(t *testing.T) {
	f, _, queue, ir := newTestFacade(t)
	ctx := context.Background()

	availableIndex(t, ir, "arn:test:facade-ingest-fail")
	created, err := f.CreateKB(ctx, 6, "rollback-target")
	if err != nil {
		t.Fatalf("CreateKB() error = %v", err)
	}

	entry, err := f.kbStore.CreateRegistryEntry(ctx, 6, "doomed.pdf", "objects/doomed.pdf")
	if err != nil {
		t.Fatalf("CreateRegistryEntry() error = %v", err)
	}

	queue.sendErr = context.DeadlineExceeded
	if _, err := f.IngestDocuments(ctx, 6, created.ID, []int64{entry.ID}); err == nil {
		t.Fatal("expected error when queue send fails")
	}

	_, total, err := f.ListKBDocs(ctx, 6, created.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListKBDocs() error = %v", err)
	}
	if total != 0 {
		t.Errorf("expected membership rollback on queue failure, got total=%d", total)
	}
}
