package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// TriageRunRepository keeps the per-ticket history of classifier runs.
type TriageRunRepository interface {
	Insert(ctx context.Context, run *domain.TriageRun) error
	LastForTicket(ctx context.Context, ticketID string) (*domain.TriageRun, error)
	CountForTicket(ctx context.Context, ticketID string) (int64, error)
}

type triageRunRepository struct {
	pool *pgxpool.Pool
}

// NewTriageRunRepository instantiates repository.
func NewTriageRunRepository(pool *pgxpool.Pool) TriageRunRepository {
	return &triageRunRepository{pool: pool}
}

func (r *triageRunRepository) Insert(ctx context.Context, run *domain.TriageRun) error {
	const query = `
        INSERT INTO triage_runs (ticket_id, pipeline_version, classifier_model, classify_ms, gate_ms, total_ms, fallback_used, success, error_text)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		run.TicketID,
		run.PipelineVersion,
		run.ClassifierModel,
		run.ClassifyMS,
		run.GateMS,
		run.TotalMS,
		run.FallbackUsed,
		run.Success,
		run.ErrorText,
	).Scan(&run.ID, &run.CreatedAt)
}

func (r *triageRunRepository) LastForTicket(ctx context.Context, ticketID string) (*domain.TriageRun, error) {
	const query = `
        SELECT id, ticket_id, pipeline_version, classifier_model, classify_ms, gate_ms, total_ms, fallback_used, success, error_text, created_at
        FROM triage_runs WHERE ticket_id=$1 ORDER BY created_at DESC LIMIT 1`
	var run domain.TriageRun
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&run.ID,
		&run.TicketID,
		&run.PipelineVersion,
		&run.ClassifierModel,
		&run.ClassifyMS,
		&run.GateMS,
		&run.TotalMS,
		&run.FallbackUsed,
		&run.Success,
		&run.ErrorText,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *triageRunRepository) CountForTicket(ctx context.Context, ticketID string) (int64, error) {
	const query = `SELECT COUNT(*) FROM triage_runs WHERE ticket_id=$1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
