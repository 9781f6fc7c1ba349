package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// IngestionRepository is the single authority for source-message
// deduplication. Records are append-only: a source id is reserved once,
// bound at most once, and never deleted.
type IngestionRepository interface {
	// Reserve atomically claims a source id. It reports false when the id
	// is already present, without touching the existing record.
	Reserve(ctx context.Context, sourceID string) (bool, error)
	Get(ctx context.Context, sourceID string) (*domain.IngestionRecord, error)
	// Bind attaches the ticket to a reserved record and marks it bound.
	Bind(ctx context.Context, sourceID, ticketID string) error
	// Reclaim re-arms a reservation that never reached bound and is older
	// than staleBefore. It reports whether this caller won the reclaim.
	Reclaim(ctx context.Context, sourceID string, staleBefore time.Time) (bool, error)
	CountStale(ctx context.Context, staleBefore time.Time) (int64, error)
}

type ingestionRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionRepository instantiates repository.
func NewIngestionRepository(pool *pgxpool.Pool) IngestionRepository {
	return &ingestionRepository{pool: pool}
}

func (r *ingestionRepository) Reserve(ctx context.Context, sourceID string) (bool, error) {
	const query = `
        INSERT INTO ingestion_records (source_id, state, reserved_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (source_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, sourceID, domain.IngestionStateReserved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ingestionRepository) Get(ctx context.Context, sourceID string) (*domain.IngestionRecord, error) {
	const query = `
        SELECT source_id, state, ticket_id, reserved_at, bound_at
        FROM ingestion_records WHERE source_id=$1`
	var record domain.IngestionRecord
	if err := r.pool.QueryRow(ctx, query, sourceID).Scan(
		&record.SourceID,
		&record.State,
		&record.TicketID,
		&record.ReservedAt,
		&record.BoundAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ingestionRepository) Bind(ctx context.Context, sourceID, ticketID string) error {
	const query = `
        UPDATE ingestion_records
        SET state=$1, ticket_id=$2, bound_at=NOW()
        WHERE source_id=$3 AND state=$4`
	tag, err := r.pool.Exec(ctx, query, domain.IngestionStateBound, ticketID, sourceID, domain.IngestionStateReserved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ingestionRepository) Reclaim(ctx context.Context, sourceID string, staleBefore time.Time) (bool, error) {
	const query = `
        UPDATE ingestion_records
        SET reserved_at=NOW()
        WHERE source_id=$1 AND state=$2 AND reserved_at < $3`
	tag, err := r.pool.Exec(ctx, query, sourceID, domain.IngestionStateReserved, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ingestionRepository) CountStale(ctx context.Context, staleBefore time.Time) (int64, error) {
	const query = `
        SELECT COUNT(*) FROM ingestion_records
        WHERE state=$1 AND reserved_at < $2`
	var count int64
	if err := r.pool.QueryRow(ctx, query, domain.IngestionStateReserved, staleBefore).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
