package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// ErrVersionConflict reports that a versioned update lost the race: the
// stored ticket moved past the version the caller read.
var ErrVersionConflict = errors.New("ticket version conflict")

// TicketFilter captures operator search parameters.
type TicketFilter struct {
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	Category       *string
	NeedsAttention *bool
	AssigneeID     *string
	SearchTerm     *string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Limit          int
	Offset         int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByReference(ctx context.Context, reference string) (*domain.Ticket, error)
	GetBySourceMessageID(ctx context.Context, sourceID string) (*domain.Ticket, error)
	// UpdateVersioned writes all mutable fields if and only if the stored
	// version equals expectedVersion, then bumps the version by one.
	UpdateVersioned(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListByStatusBefore returns tickets in the given status whose last
	// update is older than the cutoff, oldest first.
	ListByStatusBefore(ctx context.Context, status domain.TicketStatus, cutoff time.Time, limit int) ([]domain.Ticket, error)
	// ListAutoSendRetry returns gated-open drafts whose automatic send has
	// failed fewer than maxAttempts times.
	ListAutoSendRetry(ctx context.Context, maxAttempts, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, reference, version, client_email, client_name, subject, question,
       source_message_id, in_reply_to, received_at,
       tone, category, priority, confidence, draft_reply, reasoning,
       classifier_model, triage_latency_ms, pipeline_version,
       needs_attention, auto_send_allowed, auto_send_reason,
       status, send_attempts, final_answer, assignee_operator_id,
       processed_at, sent_at, resolved_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (reference, client_email, client_name, subject, question,
                             source_message_id, in_reply_to, received_at, status, tone, priority)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, version, created_at, updated_at`
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusNew
	}
	if ticket.Tone == "" {
		ticket.Tone = domain.ToneNeutral
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if ticket.ReceivedAt.IsZero() {
		ticket.ReceivedAt = time.Now()
	}
	return r.pool.QueryRow(ctx, query,
		ticket.Reference,
		ticket.ClientEmail,
		ticket.ClientName,
		ticket.Subject,
		ticket.Question,
		ticket.SourceMessageID,
		ticket.InReplyTo,
		ticket.ReceivedAt,
		ticket.Status,
		ticket.Tone,
		ticket.Priority,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByReference(ctx context.Context, reference string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE reference=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, reference)
}

func (r *ticketRepository) GetBySourceMessageID(ctx context.Context, sourceID string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE source_message_id=$1 ORDER BY created_at ASC LIMIT 1`, ticketColumns)
	return r.fetchSingle(ctx, query, sourceID)
}

func (r *ticketRepository) UpdateVersioned(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	const query = `
        UPDATE tickets SET
            tone=$1, category=$2, priority=$3, confidence=$4, draft_reply=$5, reasoning=$6,
            classifier_model=$7, triage_latency_ms=$8, pipeline_version=$9,
            needs_attention=$10, auto_send_allowed=$11, auto_send_reason=$12,
            status=$13, send_attempts=$14, final_answer=$15, assignee_operator_id=$16,
            processed_at=$17, sent_at=$18, resolved_at=$19,
            version=version+1, updated_at=NOW()
        WHERE id=$20 AND version=$21
        RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Tone,
		ticket.Category,
		ticket.Priority,
		ticket.Confidence,
		ticket.DraftReply,
		ticket.Reasoning,
		ticket.ClassifierModel,
		ticket.TriageLatencyMS,
		ticket.PipelineVersion,
		ticket.NeedsAttention,
		ticket.AutoSendAllowed,
		ticket.AutoSendReason,
		ticket.Status,
		ticket.SendAttempts,
		ticket.FinalAnswer,
		ticket.AssigneeID,
		ticket.ProcessedAt,
		ticket.SentAt,
		ticket.ResolvedAt,
		ticket.ID,
		expectedVersion,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	// Zero rows means the ticket either moved past expectedVersion or does
	// not exist; tell the two apart so callers can react correctly.
	var current int64
	probeErr := r.pool.QueryRow(ctx, `SELECT version FROM tickets WHERE id=$1`, ticket.ID).Scan(&current)
	if probeErr != nil {
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return pgx.ErrNoRows
		}
		return probeErr
	}
	return fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current, expectedVersion)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	ticket, err := scanTicketRow(row)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.NeedsAttention != nil {
		args = append(args, *filter.NeedsAttention)
		clauses = append(clauses, fmt.Sprintf("needs_attention=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_operator_id=$%d", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(subject) LIKE %s OR LOWER(question) LIKE %s OR LOWER(client_email) LIKE %s)", placeholder, placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListByStatusBefore(ctx context.Context, status domain.TicketStatus, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`, ticketColumns)
	rows, err := r.pool.Query(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListAutoSendRetry(ctx context.Context, maxAttempts, limit int) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets
         WHERE status=$1 AND auto_send_allowed AND send_attempts > 0 AND send_attempts < $2
         ORDER BY updated_at ASC LIMIT $3`, ticketColumns)
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusAIDrafted, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicketRow(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Reference,
		&ticket.Version,
		&ticket.ClientEmail,
		&ticket.ClientName,
		&ticket.Subject,
		&ticket.Question,
		&ticket.SourceMessageID,
		&ticket.InReplyTo,
		&ticket.ReceivedAt,
		&ticket.Tone,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Confidence,
		&ticket.DraftReply,
		&ticket.Reasoning,
		&ticket.ClassifierModel,
		&ticket.TriageLatencyMS,
		&ticket.PipelineVersion,
		&ticket.NeedsAttention,
		&ticket.AutoSendAllowed,
		&ticket.AutoSendReason,
		&ticket.Status,
		&ticket.SendAttempts,
		&ticket.FinalAnswer,
		&ticket.AssigneeID,
		&ticket.ProcessedAt,
		&ticket.SentAt,
		&ticket.ResolvedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
