package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// KBService owns the knowledge base: promotion of resolved tickets into
// immutable entries, and the ranked search serving both operators and
// the heuristic classifier's retrieval stage.
type KBService struct {
	kb        repository.KBRepository
	tickets   repository.TicketRepository
	ticketSvc *TicketService
	logger    *zap.Logger
}

// KBDependencies bundles collaborators for the KB service.
type KBDependencies struct {
	KBRepo        repository.KBRepository
	TicketRepo    repository.TicketRepository
	TicketService *TicketService
	Logger        *zap.Logger
}

// NewKBService constructs the service.
func NewKBService(deps KBDependencies) *KBService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KBService{
		kb:        deps.KBRepo,
		tickets:   deps.TicketRepo,
		ticketSvc: deps.TicketService,
		logger:    logger,
	}
}

// Promote captures a resolved ticket as a knowledge-base entry: the
// client's question plus the answer that actually went out. Entries are
// never edited afterwards, so promoting the same ticket again simply
// creates a fresh entry.
func (s *KBService) Promote(ctx context.Context, ticketID string, actor events.Actor) (*domain.KBEntry, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketStatusResolved {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), "promoted_to_kb")
	}

	resolution := ""
	if ticket.FinalAnswer != nil {
		resolution = strings.TrimSpace(*ticket.FinalAnswer)
	}
	if resolution == "" {
		resolution = strings.TrimSpace(ticket.DraftReply)
	}
	if resolution == "" {
		return nil, apperrors.NewValidationError("ticket has no answer to promote", nil)
	}

	title := strings.TrimSpace(ticket.Subject)
	if title == "" {
		title = defaultSubject
	}

	entry := &domain.KBEntry{
		Title:           title,
		QuestionSummary: ticket.Question,
		Resolution:      resolution,
		Category:        ticket.Category,
		SourceTicketID:  &ticket.ID,
	}
	if ticket.Category != "" {
		entry.Tags = []string{ticket.Category}
	}
	if err := s.kb.CreateEntry(ctx, entry); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("create kb entry: %w", err))
	}

	s.ticketSvc.recordAudit(ctx, &domain.TicketEvent{
		TicketID:  ticket.ID,
		EventType: domain.AuditPromoted,
		Actor:     auditActor(actor),
		Note:      fmt.Sprintf("kb entry %s", entry.ID),
	})
	s.ticketSvc.publishEvent(ctx, events.Event{
		Type:     events.EventKBEntryPromoted,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.KBEntryPromotedPayload{
			KBEntryID: entry.ID,
			Title:     entry.Title,
		},
	})

	s.logger.Info("ticket promoted to knowledge base",
		zap.String("ticket_id", ticket.ID),
		zap.String("kb_entry_id", entry.ID))
	return entry, nil
}

// Search ranks entries against free text, optionally narrowed to one
// category.
func (s *KBService) Search(ctx context.Context, term, category string, limit int) ([]domain.KBEntry, error) {
	return s.kb.Search(ctx, term, category, limit)
}

// GetEntry loads one entry by id.
func (s *KBService) GetEntry(ctx context.Context, id string) (*domain.KBEntry, error) {
	return s.kb.GetEntry(ctx, id)
}

// ListEntries pages through entries, newest first.
func (s *KBService) ListEntries(ctx context.Context, limit, offset int) ([]domain.KBEntry, error) {
	return s.kb.ListEntries(ctx, limit, offset)
}

// Citations returns the knowledge-base references the classifier cited
// on a ticket, in rank order.
func (s *KBService) Citations(ctx context.Context, ticketID string) ([]domain.Citation, error) {
	return s.kb.ListCitations(ctx, ticketID)
}
