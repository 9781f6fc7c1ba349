package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// MailLogRepository records every message that crosses the mail boundary.
type MailLogRepository interface {
	Insert(ctx context.Context, entry *domain.MailLogEntry) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.MailLogEntry, error)
}

type mailLogRepository struct {
	pool *pgxpool.Pool
}

// NewMailLogRepository instantiates repository.
func NewMailLogRepository(pool *pgxpool.Pool) MailLogRepository {
	return &mailLogRepository{pool: pool}
}

func (r *mailLogRepository) Insert(ctx context.Context, entry *domain.MailLogEntry) error {
	const query = `
        INSERT INTO mail_log (ticket_id, direction, address, subject, body, message_id, in_reply_to, send_status, error_text)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.Direction,
		entry.Address,
		entry.Subject,
		entry.Body,
		entry.MessageID,
		entry.InReplyTo,
		entry.Status,
		entry.ErrorText,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *mailLogRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.MailLogEntry, error) {
	const query = `
        SELECT id, ticket_id, direction, address, subject, body, message_id, in_reply_to, send_status, error_text, created_at
        FROM mail_log WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.MailLogEntry
	for rows.Next() {
		var entry domain.MailLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.Direction,
			&entry.Address,
			&entry.Subject,
			&entry.Body,
			&entry.MessageID,
			&entry.InReplyTo,
			&entry.Status,
			&entry.ErrorText,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
