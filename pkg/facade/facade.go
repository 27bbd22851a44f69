// Package facade implements the Request Facade: the transactional
// composition of the Index Repository and KB Repository behind create_kb /
// delete_kb, and the chi HTTP handlers that expose them. It performs no
// authentication of its own — it is mounted behind the caller's own auth
// middleware.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DEVunderdog/NeuroAgent/pkg/cloud"
	"github.com/DEVunderdog/NeuroAgent/pkg/indexrepo"
	"github.com/DEVunderdog/NeuroAgent/pkg/kb"
)

// Trigger is the subset of pkg/provisioner.Provisioner the facade depends on.
type Trigger interface {
	TriggerReconcile()
	TriggerCleanup()
}

// Queue is the subset of cloud.Adapter the facade depends on to notify the
// ingestion worker of KB document membership changes.
type Queue interface {
	SendQueueMessage(ctx context.Context, body string) error
}

var (
	// ErrRetryable is returned by CreateKB when no index is currently
	// AVAILABLE; the caller may retry after a reconcile cycle runs.
	ErrRetryable = errors.New("facade: no capacity, retry after reconcile")

	// ErrNoDocuments is returned by IngestDocuments/RemoveDocuments when none
	// of the requested document ids resolved to a registry entry.
	ErrNoDocuments = errors.New("facade: no documents matched the given ids")
)

// KnowledgeBaseView is the facade's read model for a knowledge base.
type KnowledgeBaseView struct {
	ID   int64
	Name string
}

// Facade composes the index and KB repositories behind one DB connection
// pool, firing the provisioner's trigger bus on create/delete.
type Facade struct {
	pool        *pgxpool.Pool
	indexStore  *indexrepo.Store
	kbStore     *kb.Store
	provisioner Trigger
	queue       Queue
}

// New constructs a Facade.
func New(pool *pgxpool.Pool, provisioner Trigger, queue Queue) *Facade {
	return &Facade{
		pool:        pool,
		indexStore:  indexrepo.NewStore(pool),
		kbStore:     kb.NewStore(pool),
		provisioner: provisioner,
		queue:       queue,
	}
}

// CreateKB reserves an index and inserts a KB in one transaction, per §4.7.
// On success it fires trigger_reconcile so the pool refills. On NoCapacity it
// returns ErrRetryable; the caller may reconcile-then-retry.
func (f *Facade) CreateKB(ctx context.Context, userID int64, name string) (KnowledgeBaseView, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return KnowledgeBaseView{}, fmt.Errorf("beginning create_kb transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reserved, err := f.indexStore.WithTx(tx).ReserveAvailableIndex(ctx)
	if err != nil {
		if errors.Is(err, indexrepo.ErrNoCapacity) {
			return KnowledgeBaseView{}, ErrRetryable
		}
		return KnowledgeBaseView{}, fmt.Errorf("reserving index: %w", err)
	}

	created, err := f.kbStore.WithTx(tx).InsertKB(ctx, userID, reserved.ID, name)
	if err != nil {
		return KnowledgeBaseView{}, fmt.Errorf("inserting knowledge base: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return KnowledgeBaseView{}, fmt.Errorf("committing create_kb transaction: %w", err)
	}

	f.provisioner.TriggerReconcile()

	return KnowledgeBaseView{ID: created.ID, Name: created.Name}, nil
}

// DeleteKB marks the KB's index CLEANUP, drops join rows, and deletes the KB
// row, in one transaction, per §4.7. On success it fires trigger_cleanup.
// Returns kb.ErrNotFound if the KB does not exist for userID.
func (f *Facade) DeleteKB(ctx context.Context, userID, kbID int64) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete_kb transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txKB := f.kbStore.WithTx(tx)
	txIndex := f.indexStore.WithTx(tx)

	locked, err := txKB.GetForUpdate(ctx, userID, kbID)
	if err != nil {
		return err
	}

	if err := txIndex.MarkCleanup(ctx, locked.IndexID); err != nil {
		return fmt.Errorf("marking index cleanup: %w", err)
	}
	if err := txKB.DeleteJoinRows(ctx, locked.ID); err != nil {
		return err
	}
	if err := txKB.DeleteKBRow(ctx, locked.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete_kb transaction: %w", err)
	}

	f.provisioner.TriggerCleanup()
	return nil
}

// ListKB returns a page of a user's knowledge bases.
func (f *Facade) ListKB(ctx context.Context, userID int64, limit, offset int) ([]kb.KnowledgeBase, int, error) {
	return f.kbStore.List(ctx, userID, limit, offset)
}

// ListKBDocs returns a page of a KB's member documents.
func (f *Facade) ListKBDocs(ctx context.Context, userID, kbID int64, limit, offset int) ([]kb.Document, int, error) {
	return f.kbStore.ListDocuments(ctx, userID, kbID, limit, offset)
}

// DeleteDocument locks and removes registry entries, refusing with
// kb.ErrConflict if any target is still linked to a KB.
func (f *Facade) DeleteDocument(ctx context.Context, userID int64, docIDs []int64) error {
	if err := f.kbStore.LockForDeletion(ctx, userID, docIDs); err != nil {
		return err
	}
	return f.kbStore.DeleteRegistryEntries(ctx, userID, docIDs)
}

// IngestDocuments links docIDs into kbID and notifies the ingestion worker
// via the queue message's index_kb_doc_id field. Mirrors
// original_source/app/api/routes/ingestion.py's insert path: the DB
// membership rows are created, the queue send happens before commit, and a
// queue failure rolls the membership rows back rather than leaving them
// orphaned. Returns kb.ErrNotFound if the KB does not exist for userID, and
// ErrNoDocuments if none of docIDs resolved to a registry entry.
func (f *Facade) IngestDocuments(ctx context.Context, userID, kbID int64, docIDs []int64) (int64, error) {
	return f.ingest(ctx, userID, kbID, docIDs, false)
}

// RemoveDocuments unlinks docIDs from kbID and notifies the ingestion worker
// via the queue message's delete_kb_doc_id field, mirroring
// original_source/app/api/routes/ingestion.py's delete path.
func (f *Facade) RemoveDocuments(ctx context.Context, userID, kbID int64, docIDs []int64) (int64, error) {
	return f.ingest(ctx, userID, kbID, docIDs, true)
}

func (f *Facade) ingest(ctx context.Context, userID, kbID int64, docIDs []int64, removing bool) (int64, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning ingestion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txKB := f.kbStore.WithTx(tx)

	found, err := txKB.GetForUpdate(ctx, userID, kbID)
	if err != nil {
		return 0, err
	}

	index, err := f.indexStore.WithTx(tx).Get(ctx, found.IndexID)
	if err != nil {
		return 0, fmt.Errorf("loading kb index: %w", err)
	}

	var linked []kb.LinkedDocument
	if removing {
		linked, err = txKB.RemoveDocuments(ctx, kbID, docIDs)
	} else {
		linked, err = txKB.CreateDocuments(ctx, kbID, docIDs)
	}
	if err != nil {
		return 0, err
	}
	if len(linked) == 0 {
		return 0, ErrNoDocuments
	}

	entries := make([]cloud.DocOpEntry, len(linked))
	for i, l := range linked {
		objectKey := l.ObjectKey
		entries[i] = cloud.DocOpEntry{
			KBDocID:   l.KBDocID,
			DocID:     l.DocID,
			FileName:  l.FileName,
			ObjectKey: &objectKey,
		}
	}

	jobID := time.Now().UnixNano()
	msg := cloud.QueueMessage{
		IngestionJobID: jobID,
		IndexARN:       index.IndexARN,
		KBID:           kbID,
		UserID:         userID,
	}
	if removing {
		msg.DeleteKBDocID = entries
	} else {
		msg.IndexKBDocID = entries
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encoding queue message: %w", err)
	}
	if err := f.queue.SendQueueMessage(ctx, string(body)); err != nil {
		return 0, fmt.Errorf("enqueueing ingestion job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing ingestion transaction: %w", err)
	}

	return jobID, nil
}
