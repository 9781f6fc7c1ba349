package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportops/mailtriage/internal/domain"
)

// KBRepository stores knowledge-base entries and per-ticket citations.
// Entries are immutable once written; citations are replaced wholesale.
type KBRepository interface {
	CreateEntry(ctx context.Context, entry *domain.KBEntry) error
	GetEntry(ctx context.Context, id string) (*domain.KBEntry, error)
	ListEntries(ctx context.Context, limit, offset int) ([]domain.KBEntry, error)
	// Search ranks entries against free text, full-text first with a
	// substring fallback for queries the text parser cannot use. An
	// empty category matches all categories.
	Search(ctx context.Context, term, category string, limit int) ([]domain.KBEntry, error)
	// ReplaceCitations swaps the citation set of a ticket in one
	// transaction; an empty set clears it.
	ReplaceCitations(ctx context.Context, ticketID string, citations []domain.Citation) error
	ListCitations(ctx context.Context, ticketID string) ([]domain.Citation, error)
}

type kbRepository struct {
	pool *pgxpool.Pool
}

// NewKBRepository instantiates repository.
func NewKBRepository(pool *pgxpool.Pool) KBRepository {
	return &kbRepository{pool: pool}
}

const kbColumns = `id, title, question_summary, resolution, category, tags, source_ticket_id, created_at`

func (r *kbRepository) CreateEntry(ctx context.Context, entry *domain.KBEntry) error {
	const query = `
        INSERT INTO kb_entries (title, question_summary, resolution, category, tags, source_ticket_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		entry.Title,
		entry.QuestionSummary,
		entry.Resolution,
		entry.Category,
		tags,
		entry.SourceTicketID,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *kbRepository) GetEntry(ctx context.Context, id string) (*domain.KBEntry, error) {
	const query = `
        SELECT id, title, question_summary, resolution, category, tags, source_ticket_id, created_at
        FROM kb_entries WHERE id=$1`
	var entry domain.KBEntry
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.Title,
		&entry.QuestionSummary,
		&entry.Resolution,
		&entry.Category,
		&entry.Tags,
		&entry.SourceTicketID,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *kbRepository) ListEntries(ctx context.Context, limit, offset int) ([]domain.KBEntry, error) {
	const query = `
        SELECT id, title, question_summary, resolution, category, tags, source_ticket_id, created_at
        FROM kb_entries ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKBEntries(rows)
}

func (r *kbRepository) Search(ctx context.Context, term, category string, limit int) ([]domain.KBEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	query := `
        SELECT id, title, question_summary, resolution, category, tags, source_ticket_id, created_at
        FROM kb_entries
        WHERE search_vector @@ plainto_tsquery('russian', $1)`
	args := []any{term}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(`
        ORDER BY ts_rank(search_vector, plainto_tsquery('russian', $1)) DESC
        LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	entries, err := scanKBEntries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return entries, nil
	}
	return r.searchFallback(ctx, term, category, limit)
}

func (r *kbRepository) searchFallback(ctx context.Context, term, category string, limit int) ([]domain.KBEntry, error) {
	query := `
        SELECT id, title, question_summary, resolution, category, tags, source_ticket_id, created_at
        FROM kb_entries
        WHERE (LOWER(title) LIKE $1 OR LOWER(question_summary) LIKE $1 OR LOWER(resolution) LIKE $1)`
	args := []any{"%" + strings.ToLower(term) + "%"}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKBEntries(rows)
}

func (r *kbRepository) ReplaceCitations(ctx context.Context, ticketID string, citations []domain.Citation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ticket_citations WHERE ticket_id=$1`, ticketID); err != nil {
		return err
	}
	const insert = `
        INSERT INTO ticket_citations (ticket_id, rank, kb_entry_id, snippet)
        VALUES ($1,$2,$3,$4)`
	for _, citation := range citations {
		if _, err := tx.Exec(ctx, insert, ticketID, citation.Rank, citation.KBEntryID, citation.Snippet); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *kbRepository) ListCitations(ctx context.Context, ticketID string) ([]domain.Citation, error) {
	const query = `
        SELECT ticket_id, rank, kb_entry_id, snippet
        FROM ticket_citations WHERE ticket_id=$1 ORDER BY rank ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Citation
	for rows.Next() {
		var citation domain.Citation
		if err := rows.Scan(&citation.TicketID, &citation.Rank, &citation.KBEntryID, &citation.Snippet); err != nil {
			return nil, err
		}
		result = append(result, citation)
	}
	return result, rows.Err()
}

func scanKBEntries(rows pgx.Rows) ([]domain.KBEntry, error) {
	var result []domain.KBEntry
	for rows.Next() {
		var entry domain.KBEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Title,
			&entry.QuestionSummary,
			&entry.Resolution,
			&entry.Category,
			&entry.Tags,
			&entry.SourceTicketID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
