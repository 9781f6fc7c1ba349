package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// TicketEventRepository appends and reads the per-ticket audit trail.
type TicketEventRepository interface {
	Insert(ctx context.Context, event *domain.TicketEvent) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error)
}

type ticketEventRepository struct {
	pool *pgxpool.Pool
}

// NewTicketEventRepository instantiates repository.
func NewTicketEventRepository(pool *pgxpool.Pool) TicketEventRepository {
	return &ticketEventRepository{pool: pool}
}

func (r *ticketEventRepository) Insert(ctx context.Context, event *domain.TicketEvent) error {
	const query = `
        INSERT INTO ticket_events (ticket_id, event_type, from_status, to_status, actor, note)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	actor := event.Actor
	if actor == "" {
		actor = "system"
	}
	return r.pool.QueryRow(ctx, query,
		event.TicketID,
		event.EventType,
		event.FromStatus,
		event.ToStatus,
		actor,
		event.Note,
	).Scan(&event.ID, &event.CreatedAt)
}

func (r *ticketEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	const query = `
        SELECT id, ticket_id, event_type, from_status, to_status, actor, note, created_at
        FROM ticket_events WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketEvent
	for rows.Next() {
		var event domain.TicketEvent
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.EventType,
			&event.FromStatus,
			&event.ToStatus,
			&event.Actor,
			&event.Note,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
