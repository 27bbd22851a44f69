package indexrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store run
// standalone or composed inside a caller's transaction (see WithTx).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const indexColumns = `id, index_arn, bucket_arn, status, created_at, updated_at`

// Store provides database operations for vector index records.
type Store struct {
	db DBTX
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx returns a Store bound to tx, so its operations participate in the
// caller's transaction instead of acquiring their own connection.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func scanIndexRow(row pgx.Row) (VectorIndex, error) {
	var v VectorIndex
	err := row.Scan(&v.ID, &v.IndexARN, &v.BucketARN, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func scanIndexRows(rows pgx.Rows) ([]VectorIndex, error) {
	defer rows.Close()
	var items []VectorIndex
	for rows.Next() {
		v, err := scanIndexRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vector index row: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector index rows: %w", err)
	}
	return items, nil
}

// ReserveAvailableIndex atomically reserves one AVAILABLE row and transitions
// it to ASSIGNED, using FOR UPDATE SKIP LOCKED as the single statement that
// is the linearization point for concurrent KB creation: without
// SKIP LOCKED, concurrent creators would either serialize on the same row or
// double-assign it. Returns ErrNoCapacity if no AVAILABLE row exists.
func (s *Store) ReserveAvailableIndex(ctx context.Context) (VectorIndex, error) {
	query := `
		UPDATE vector_indexes
		SET status = 'ASSIGNED', updated_at = now()
		WHERE id = (
			SELECT id FROM vector_indexes
			WHERE status = 'AVAILABLE'
			ORDER BY random()
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + indexColumns

	row := s.db.QueryRow(ctx, query)
	v, err := scanIndexRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return VectorIndex{}, ErrNoCapacity
		}
		return VectorIndex{}, fmt.Errorf("reserving available index: %w", err)
	}
	return v, nil
}

// InsertProvisioning inserts a new PROVISIONING row and returns it.
func (s *Store) InsertProvisioning(ctx context.Context, indexARN, bucketARN string) (VectorIndex, error) {
	query := `
		INSERT INTO vector_indexes (index_arn, bucket_arn, status)
		VALUES ($1, $2, 'PROVISIONING')
		RETURNING ` + indexColumns

	row := s.db.QueryRow(ctx, query, indexARN, bucketARN)
	v, err := scanIndexRow(row)
	if err != nil {
		return VectorIndex{}, fmt.Errorf("inserting provisioning index: %w", err)
	}
	return v, nil
}

// MarkAvailable transitions a PROVISIONING row to AVAILABLE. It returns
// ErrNotFound if the row no longer exists in the PROVISIONING state — the
// caller (Phase C of provisioning) treats that as a fatal inconsistency.
func (s *Store) MarkAvailable(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_indexes SET status = 'AVAILABLE', updated_at = now()
		WHERE id = $1 AND status = 'PROVISIONING'`, id)
	if err != nil {
		return fmt.Errorf("marking index available: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed transitions a row to FAILED.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_indexes SET status = 'FAILED', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking index failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCleanup transitions a row to CLEANUP. Used by the Request Facade's
// DeleteKB when a KB referencing this index is deleted.
func (s *Store) MarkCleanup(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_indexes SET status = 'CLEANUP', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking index cleanup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a vector index row by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM vector_indexes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a single index row by ID.
func (s *Store) Get(ctx context.Context, id int64) (VectorIndex, error) {
	row := s.db.QueryRow(ctx, `SELECT `+indexColumns+` FROM vector_indexes WHERE id = $1`, id)
	v, err := scanIndexRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return VectorIndex{}, ErrNotFound
		}
		return VectorIndex{}, fmt.Errorf("getting index: %w", err)
	}
	return v, nil
}

// ListForCleanup returns rows that are candidates for teardown: FAILED, or
// stuck PROVISIONING (created before stuckAfter), or orphaned CLEANUP (no KB
// references it).
func (s *Store) ListForCleanup(ctx context.Context, stuckAfter time.Time) ([]VectorIndex, error) {
	query := `
		SELECT ` + indexColumns + ` FROM vector_indexes vi
		WHERE vi.status = 'FAILED'
		   OR (vi.status = 'PROVISIONING' AND vi.created_at < $1)
		   OR (vi.status = 'CLEANUP' AND NOT EXISTS (
				SELECT 1 FROM knowledge_bases kb WHERE kb.index_id = vi.id
		   ))
		ORDER BY vi.created_at ASC`

	rows, err := s.db.Query(ctx, query, stuckAfter)
	if err != nil {
		return nil, fmt.Errorf("listing cleanup candidates: %w", err)
	}
	return scanIndexRows(rows)
}

// PoolStats returns counts by status. When freshnessWindow is non-zero,
// PROVISIONING rows older than now-freshnessWindow are excluded from
// ProvisioningCount (they are considered stuck, not usable pool capacity).
func (s *Store) PoolStats(ctx context.Context, freshnessWindow time.Duration) (PoolStats, error) {
	var freshSince *time.Time
	if freshnessWindow > 0 {
		t := time.Now().Add(-freshnessWindow)
		freshSince = &t
	}

	query := `
		SELECT
			count(*) FILTER (WHERE status = 'AVAILABLE') AS available_count,
			count(*) FILTER (WHERE status = 'PROVISIONING' AND ($1::timestamptz IS NULL OR created_at >= $1)) AS provisioning_count,
			count(*) FILTER (WHERE status = 'ASSIGNED') AS assigned_count,
			count(*) FILTER (WHERE status = 'CLEANUP') AS cleanup_count,
			count(*) FILTER (WHERE status = 'FAILED') AS failed_count
		FROM vector_indexes`

	row := s.db.QueryRow(ctx, query, freshSince)
	var stats PoolStats
	if err := row.Scan(
		&stats.AvailableCount,
		&stats.ProvisioningCount,
		&stats.AssignedCount,
		&stats.CleanupCount,
		&stats.FailedCount,
	); err != nil {
		return PoolStats{}, fmt.Errorf("querying pool stats: %w", err)
	}
	return stats, nil
}
