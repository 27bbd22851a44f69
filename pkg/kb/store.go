package kb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store run
// standalone or composed inside a caller's transaction (see WithTx). A KB
// create must share a transaction with the index reservation it depends on,
// so callers bind both stores to the same tx via WithTx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const kbColumns = `id, user_id, index_id, name, created_at, updated_at`

// Store provides database operations for knowledge bases and their documents.
type Store struct {
	db DBTX
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func scanKBRow(row pgx.Row) (KnowledgeBase, error) {
	var kb KnowledgeBase
	err := row.Scan(&kb.ID, &kb.UserID, &kb.IndexID, &kb.Name, &kb.CreatedAt, &kb.UpdatedAt)
	return kb, err
}

// InsertKB inserts a KB row pointing at indexID. Callers run this inside the
// same transaction as the index reservation it depends on.
func (s *Store) InsertKB(ctx context.Context, userID, indexID int64, name string) (KnowledgeBase, error) {
	query := `INSERT INTO knowledge_bases (user_id, index_id, name) VALUES ($1, $2, $3)
		RETURNING ` + kbColumns

	row := s.db.QueryRow(ctx, query, userID, indexID, name)
	kbRow, err := scanKBRow(row)
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("inserting knowledge base: %w", err)
	}
	return kbRow, nil
}

// GetForUpdate selects a KB row owned by userID with a row lock, for use
// inside DeleteKB's transaction.
func (s *Store) GetForUpdate(ctx context.Context, userID, kbID int64) (KnowledgeBase, error) {
	query := `SELECT ` + kbColumns + ` FROM knowledge_bases WHERE id = $1 AND user_id = $2 FOR UPDATE`
	row := s.db.QueryRow(ctx, query, kbID, userID)
	kbRow, err := scanKBRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return KnowledgeBase{}, ErrNotFound
		}
		return KnowledgeBase{}, fmt.Errorf("locking knowledge base: %w", err)
	}
	return kbRow, nil
}

// DeleteJoinRows removes every Document row for the given KB.
func (s *Store) DeleteJoinRows(ctx context.Context, kbID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM knowledge_base_documents WHERE kb_id = $1`, kbID)
	if err != nil {
		return fmt.Errorf("deleting kb document join rows: %w", err)
	}
	return nil
}

// DeleteKBRow removes the KB row itself.
func (s *Store) DeleteKBRow(ctx context.Context, kbID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, kbID)
	if err != nil {
		return fmt.Errorf("deleting knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of KBs owned by userID, plus the total count.
func (s *Store) List(ctx context.Context, userID int64, limit, offset int) ([]KnowledgeBase, int, error) {
	rows, err := s.db.Query(ctx, `SELECT `+kbColumns+` FROM knowledge_bases
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing knowledge bases: %w", err)
	}
	defer rows.Close()

	var items []KnowledgeBase
	for rows.Next() {
		kbRow, err := scanKBRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning knowledge base row: %w", err)
		}
		items = append(items, kbRow)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating knowledge base rows: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM knowledge_bases WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting knowledge bases: %w", err)
	}

	return items, total, nil
}

// ListDocuments returns a page of documents linked to kbID (owned by userID), plus the total count.
func (s *Store) ListDocuments(ctx context.Context, userID, kbID int64, limit, offset int) ([]Document, int, error) {
	// Ownership is enforced via the join: a KB not owned by userID yields zero rows.
	rows, err := s.db.Query(ctx, `
		SELECT d.id, d.kb_id, d.doc_id, d.kb_doc_id, d.created_at
		FROM knowledge_base_documents d
		JOIN knowledge_bases kb ON kb.id = d.kb_id
		WHERE d.kb_id = $1 AND kb.user_id = $2
		ORDER BY d.created_at DESC LIMIT $3 OFFSET $4`, kbID, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing kb documents: %w", err)
	}
	defer rows.Close()

	var items []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.KBID, &d.DocID, &d.KBDocID, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning kb document row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating kb document rows: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM knowledge_base_documents d
		JOIN knowledge_bases kb ON kb.id = d.kb_id
		WHERE d.kb_id = $1 AND kb.user_id = $2`, kbID, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting kb documents: %w", err)
	}

	return items, total, nil
}

// LinkedDocument is one document newly linked to (or unlinked from) a KB,
// carrying the fields the ingestion queue message needs.
type LinkedDocument struct {
	KBDocID   int64
	DocID     int64
	FileName  string
	ObjectKey string
}

// CreateDocuments inserts membership rows linking docIDs to kbID, returning
// one LinkedDocument per row actually created (docIDs with no matching
// document_registry entry are silently skipped).
func (s *Store) CreateDocuments(ctx context.Context, kbID int64, docIDs []int64) ([]LinkedDocument, error) {
	var out []LinkedDocument
	for _, docID := range docIDs {
		row := s.db.QueryRow(ctx, `
			INSERT INTO knowledge_base_documents (kb_id, doc_id)
			SELECT $1, id FROM document_registry WHERE id = $2
			RETURNING id, doc_id`, kbID, docID)

		var l LinkedDocument
		if err := row.Scan(&l.KBDocID, &l.DocID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("creating kb document: %w", err)
		}

		if err := s.db.QueryRow(ctx, `SELECT file_name, object_key FROM document_registry WHERE id = $1`, docID).
			Scan(&l.FileName, &l.ObjectKey); err != nil {
			return nil, fmt.Errorf("loading linked document metadata: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// RemoveDocuments deletes membership rows linking docIDs to kbID, returning
// one LinkedDocument per row actually removed.
func (s *Store) RemoveDocuments(ctx context.Context, kbID int64, docIDs []int64) ([]LinkedDocument, error) {
	var out []LinkedDocument
	for _, docID := range docIDs {
		row := s.db.QueryRow(ctx, `
			DELETE FROM knowledge_base_documents
			WHERE kb_id = $1 AND doc_id = $2
			RETURNING id, doc_id`, kbID, docID)

		var l LinkedDocument
		if err := row.Scan(&l.KBDocID, &l.DocID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("removing kb document: %w", err)
		}

		if err := s.db.QueryRow(ctx, `SELECT file_name, object_key FROM document_registry WHERE id = $1`, docID).
			Scan(&l.FileName, &l.ObjectKey); err != nil {
			return nil, fmt.Errorf("loading unlinked document metadata: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// --- Document registry ---

const registryColumns = `id, user_id, file_name, object_key, lock_status, op_status, created_at`

func scanRegistryRow(row pgx.Row) (RegistryEntry, error) {
	var e RegistryEntry
	err := row.Scan(&e.ID, &e.UserID, &e.FileName, &e.ObjectKey, &e.LockStatus, &e.OpStatus, &e.CreatedAt)
	return e, err
}

// CreateRegistryEntry inserts a pending document registry entry.
func (s *Store) CreateRegistryEntry(ctx context.Context, userID int64, fileName, objectKey string) (RegistryEntry, error) {
	query := `INSERT INTO document_registry (user_id, file_name, object_key, lock_status, op_status)
		VALUES ($1, $2, $3, false, 'PENDING') RETURNING ` + registryColumns

	row := s.db.QueryRow(ctx, query, userID, fileName, objectKey)
	entry, err := scanRegistryRow(row)
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("creating document registry entry: %w", err)
	}
	return entry, nil
}

// FinalizeRegistryEntry sets the op status (SUCCESS or FAILED) of a registry entry.
func (s *Store) FinalizeRegistryEntry(ctx context.Context, id int64, status RegistryOpStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE document_registry SET op_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("finalizing document registry entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRegistryEntries returns a page of a user's uploaded documents.
func (s *Store) ListRegistryEntries(ctx context.Context, userID int64, limit, offset int) ([]RegistryEntry, int, error) {
	rows, err := s.db.Query(ctx, `SELECT `+registryColumns+` FROM document_registry
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing document registry entries: %w", err)
	}
	defer rows.Close()

	var items []RegistryEntry
	for rows.Next() {
		e, err := scanRegistryRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning document registry row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating document registry rows: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM document_registry WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting document registry entries: %w", err)
	}

	return items, total, nil
}

// LockForDeletion marks registry entries as locked ahead of deletion,
// refusing (ErrConflict) any entry still referenced by a KB.
func (s *Store) LockForDeletion(ctx context.Context, userID int64, docIDs []int64) error {
	var linked int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM knowledge_base_documents d
		JOIN document_registry r ON r.id = d.doc_id
		WHERE r.user_id = $1 AND d.doc_id = ANY($2)`, userID, docIDs).Scan(&linked)
	if err != nil {
		return fmt.Errorf("checking kb membership before delete: %w", err)
	}
	if linked > 0 {
		return ErrConflict
	}

	_, err = s.db.Exec(ctx, `UPDATE document_registry SET lock_status = true
		WHERE user_id = $1 AND id = ANY($2)`, userID, docIDs)
	if err != nil {
		return fmt.Errorf("locking document registry entries: %w", err)
	}
	return nil
}

// DeleteRegistryEntries removes registry entries by ID, owned by userID.
func (s *Store) DeleteRegistryEntries(ctx context.Context, userID int64, docIDs []int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM document_registry WHERE user_id = $1 AND id = ANY($2)`, userID, docIDs)
	if err != nil {
		return fmt.Errorf("deleting document registry entries: %w", err)
	}
	return nil
}
