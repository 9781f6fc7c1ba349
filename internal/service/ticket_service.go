package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/observability"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// TicketService coordinates the ticket lifecycle: operator edits,
// replies, and the status machine every mutation passes through.
type TicketService struct {
	tickets    repository.TicketRepository
	auditTrail repository.TicketEventRepository
	mailLog    repository.MailLogRepository
	sender     mail.Sender
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger

	maxSendAttempts int
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo      repository.TicketRepository
	EventRepo       repository.TicketEventRepository
	MailLogRepo     repository.MailLogRepository
	Sender          mail.Sender
	Dispatcher      events.Dispatcher
	Metrics         *observability.Metrics
	Logger          *zap.Logger
	MaxSendAttempts int
}

// TicketPatch describes an operator update. Nil fields are untouched; an
// empty-string AssigneeID clears the assignment.
type TicketPatch struct {
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *string
	AssigneeID  *string
	FinalAnswer *string
}

// TriageOutcome is the classification result applied to a ticket.
type TriageOutcome struct {
	Category        string
	Priority        domain.TicketPriority
	Tone            domain.Tone
	Confidence      float64
	DraftReply      string
	Reasoning       string
	Model           string
	PipelineVersion string
	LatencyMS       int64
	AutoSendAllowed bool
	AutoSendReason  string
	NeedsAttention  bool
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := deps.MaxSendAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &TicketService{
		tickets:         deps.TicketRepo,
		auditTrail:      deps.EventRepo,
		mailLog:         deps.MailLogRepo,
		sender:          deps.Sender,
		dispatcher:      deps.Dispatcher,
		metrics:         deps.Metrics,
		logger:          logger,
		maxSendAttempts: maxAttempts,
	}
}

// List returns tickets matching the filter, newest first.
func (s *TicketService) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, filter)
}

// Get loads one ticket by id.
func (s *TicketService) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

// History returns the ticket's audit trail, oldest first.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.auditTrail.ListByTicket(ctx, ticketID)
}

// MailHistory returns the ticket's mail log, oldest first.
func (s *TicketService) MailHistory(ctx context.Context, ticketID string) ([]domain.MailLogEntry, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.mailLog.ListByTicket(ctx, ticketID)
}

// Update applies an operator patch under optimistic locking. Status
// changes must follow the transition table; auto_sent is reachable only
// through a completed send and is rejected here.
func (s *TicketService) Update(ctx context.Context, id string, expectedVersion int64, patch TicketPatch, actor events.Actor) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := ticket.Status
	statusChanged := false
	if patch.Status != nil && *patch.Status != ticket.Status {
		next := *patch.Status
		if next == domain.TicketStatusAutoSent {
			return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(next))
		}
		if !isValidTransition(ticket.Status, next) {
			return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(next))
		}
		ticket.Status = next
		statusChanged = true
		if next == domain.TicketStatusResolved {
			now := time.Now()
			ticket.ResolvedAt = &now
		}
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.Category != nil {
		ticket.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.AssigneeID != nil {
		if *patch.AssigneeID == "" {
			ticket.AssigneeID = nil
		} else {
			ticket.AssigneeID = patch.AssigneeID
		}
	}
	if patch.FinalAnswer != nil {
		ticket.FinalAnswer = patch.FinalAnswer
	}

	if err := s.saveVersioned(ctx, ticket, expectedVersion); err != nil {
		return nil, err
	}

	if statusChanged {
		note := "operator update"
		if actor.Type != events.ActorOperator {
			note = string(actor.Type) + " update"
		}
		s.recordStatusChange(ctx, ticket, oldStatus, ticket.Status, actor, note)
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			TicketID: ticket.ID,
			Actor:    actor,
			Payload: events.TicketStatusChangedPayload{
				OldStatus: oldStatus,
				NewStatus: ticket.Status,
			},
		})
		if ticket.Status == domain.TicketStatusResolved {
			s.publishEvent(ctx, events.Event{
				Type:     events.EventTicketResolved,
				TicketID: ticket.ID,
				Actor:    actor,
				Payload: events.TicketResolvedPayload{
					Reference:  ticket.Reference,
					OperatorID: actor.OperatorID,
				},
			})
		}
	}
	return ticket, nil
}

// ApplyTriage writes a triage outcome onto the ticket and moves it to
// ai_drafted. Only tickets still in new or ai_drafted accept triage.
func (s *TicketService) ApplyTriage(ctx context.Context, ticket *domain.Ticket, outcome TriageOutcome) (*domain.Ticket, error) {
	if !ticket.Triagable() {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusAIDrafted))
	}

	oldStatus := ticket.Status
	now := time.Now()
	ticket.Category = outcome.Category
	ticket.Priority = outcome.Priority
	ticket.Tone = outcome.Tone
	ticket.Confidence = outcome.Confidence
	ticket.DraftReply = outcome.DraftReply
	ticket.Reasoning = outcome.Reasoning
	ticket.ClassifierModel = outcome.Model
	ticket.PipelineVersion = outcome.PipelineVersion
	ticket.TriageLatencyMS = outcome.LatencyMS
	ticket.AutoSendAllowed = outcome.AutoSendAllowed
	ticket.AutoSendReason = outcome.AutoSendReason
	ticket.NeedsAttention = outcome.NeedsAttention
	ticket.Status = domain.TicketStatusAIDrafted
	ticket.ProcessedAt = &now

	if err := s.saveVersioned(ctx, ticket, ticket.Version); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &domain.TicketEvent{
		TicketID:  ticket.ID,
		EventType: domain.AuditTriaged,
		Actor:     auditActor(systemActor()),
		Note:      fmt.Sprintf("category=%s confidence=%.2f", outcome.Category, outcome.Confidence),
	})
	if oldStatus != ticket.Status {
		s.recordStatusChange(ctx, ticket, oldStatus, ticket.Status, systemActor(), "triage applied")
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketTriaged,
		TicketID: ticket.ID,
		Actor:    systemActor(),
		Payload: events.TicketTriagedPayload{
			Reference:       ticket.Reference,
			Category:        ticket.Category,
			Priority:        ticket.Priority,
			Tone:            ticket.Tone,
			Confidence:      ticket.Confidence,
			AutoSendAllowed: ticket.AutoSendAllowed,
			AutoSendReason:  ticket.AutoSendReason,
			NeedsAttention:  ticket.NeedsAttention,
		},
	})
	if ticket.NeedsAttention {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketNeedsAttention,
			TicketID: ticket.ID,
			Actor:    systemActor(),
			Payload: events.TicketNeedsAttentionPayload{
				Reference: ticket.Reference,
				Reason:    ticket.AutoSendReason,
				Tone:      ticket.Tone,
				Subject:   ticket.Subject,
			},
		})
	}
	return ticket, nil
}

// SendReply delivers the operator's reply and resolves the ticket.
// Sending is legal from ai_drafted and in_progress. A transport failure
// leaves the ticket exactly as it was.
func (s *TicketService) SendReply(ctx context.Context, id string, expectedVersion int64, body string, actor events.Actor) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketStatusAIDrafted && ticket.Status != domain.TicketStatusInProgress {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusResolved))
	}
	if ticket.Version != expectedVersion {
		return nil, apperrors.NewVersionConflict(ticket.ID, expectedVersion)
	}

	text := strings.TrimSpace(body)
	if text == "" && ticket.FinalAnswer != nil {
		text = strings.TrimSpace(*ticket.FinalAnswer)
	}
	if text == "" {
		text = strings.TrimSpace(ticket.DraftReply)
	}
	if text == "" {
		return nil, apperrors.NewValidationError("reply body is empty", nil)
	}

	receipt, err := s.deliver(ctx, ticket, text)
	if err != nil {
		s.recordSendFailure(ctx, ticket, text, err, actor)
		return nil, err
	}

	oldStatus := ticket.Status
	now := receipt.SentAt
	ticket.FinalAnswer = &text
	ticket.SentAt = &now
	ticket.ResolvedAt = &now
	ticket.Status = domain.TicketStatusResolved
	ticket.SendAttempts++
	if err := s.saveVersioned(ctx, ticket, expectedVersion); err != nil {
		return nil, err
	}

	s.logMail(ctx, ticket, text, receipt.MessageID, domain.SendStatusSent, "")
	s.recordAudit(ctx, &domain.TicketEvent{
		TicketID:  ticket.ID,
		EventType: domain.AuditReplySent,
		Actor:     auditActor(actor),
		Note:      "reply sent to " + ticket.ClientEmail,
	})
	s.recordStatusChange(ctx, ticket, oldStatus, ticket.Status, actor, "reply sent")
	if s.metrics != nil {
		s.metrics.RecordSend("manual", observability.OutcomeSent)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			Comment:   "reply sent",
		},
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketResolved,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketResolvedPayload{
			Reference:  ticket.Reference,
			OperatorID: actor.OperatorID,
		},
	})
	return ticket, nil
}

// AutoSend delivers the draft of a gated-open ai_drafted ticket and
// moves it to auto_sent. On transport failure the ticket keeps its
// status; only the attempt counter advances.
func (s *TicketService) AutoSend(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	if ticket.Status != domain.TicketStatusAIDrafted {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusAutoSent))
	}
	if !ticket.AutoSendAllowed {
		return nil, apperrors.NewValidationError("ticket is gated, automatic send refused", nil)
	}
	if ticket.SendAttempts >= s.maxSendAttempts {
		return nil, apperrors.NewValidationError("send attempt limit reached", nil)
	}
	text := strings.TrimSpace(ticket.DraftReply)
	if text == "" {
		return nil, apperrors.NewValidationError("ticket has no draft to send", nil)
	}

	receipt, err := s.deliver(ctx, ticket, text)
	if err != nil {
		ticket.SendAttempts++
		if saveErr := s.saveVersioned(ctx, ticket, ticket.Version); saveErr != nil {
			s.logger.Warn("failed to persist send attempt",
				zap.String("ticket_id", ticket.ID), zap.Error(saveErr))
		}
		s.recordSendFailure(ctx, ticket, text, err, systemActor())
		if s.metrics != nil {
			s.metrics.RecordSend("auto", observability.OutcomeFailed)
		}
		return nil, err
	}

	oldStatus := ticket.Status
	now := receipt.SentAt
	ticket.SentAt = &now
	ticket.Status = domain.TicketStatusAutoSent
	ticket.SendAttempts++
	if err := s.saveVersioned(ctx, ticket, ticket.Version); err != nil {
		return nil, err
	}

	s.logMail(ctx, ticket, text, receipt.MessageID, domain.SendStatusSent, "")
	s.recordStatusChange(ctx, ticket, oldStatus, ticket.Status, systemActor(), "draft auto-sent")
	if s.metrics != nil {
		s.metrics.RecordSend("auto", observability.OutcomeSent)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAutoSent,
		TicketID: ticket.ID,
		Actor:    systemActor(),
		Payload: events.TicketAutoSentPayload{
			Reference: ticket.Reference,
			To:        ticket.ClientEmail,
			MessageID: receipt.MessageID,
		},
	})
	return ticket, nil
}

func (s *TicketService) deliver(ctx context.Context, ticket *domain.Ticket, text string) (*mail.DeliveryReceipt, error) {
	if s.sender == nil {
		return nil, apperrors.NewTransportError(errors.New("no mail sender configured"))
	}
	return s.sender.Send(ctx, mail.OutboundMessage{
		To:        ticket.ClientEmail,
		ToName:    ticket.ClientName,
		Subject:   ticket.Subject,
		Body:      text,
		InReplyTo: ticket.SourceMessageID,
	})
}

func (s *TicketService) recordSendFailure(ctx context.Context, ticket *domain.Ticket, text string, sendErr error, actor events.Actor) {
	s.logMail(ctx, ticket, text, "", domain.SendStatusFailed, sendErr.Error())
	s.recordAudit(ctx, &domain.TicketEvent{
		TicketID:  ticket.ID,
		EventType: domain.AuditSendFailed,
		Actor:     auditActor(actor),
		Note:      sendErr.Error(),
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventSendFailed,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.SendFailedPayload{
			Reference: ticket.Reference,
			To:        ticket.ClientEmail,
			Attempts:  ticket.SendAttempts,
			Error:     sendErr.Error(),
		},
	})
}

func (s *TicketService) logMail(ctx context.Context, ticket *domain.Ticket, body, messageID string, status domain.SendStatus, errorText string) {
	if s.mailLog == nil {
		return
	}
	entry := &domain.MailLogEntry{
		TicketID:  &ticket.ID,
		Direction: domain.MailDirectionOutgoing,
		Address:   ticket.ClientEmail,
		Subject:   ticket.Subject,
		Body:      body,
		MessageID: messageID,
		InReplyTo: ticket.SourceMessageID,
		Status:    status,
		ErrorText: errorText,
	}
	if err := s.mailLog.Insert(ctx, entry); err != nil {
		s.logger.Warn("mail log insert failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *TicketService) saveVersioned(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	err := s.tickets.UpdateVersioned(ctx, ticket, expectedVersion)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperrors.NewVersionConflict(ticket.ID, expectedVersion)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticket.ID})
	}
	return err
}

func (s *TicketService) recordStatusChange(ctx context.Context, ticket *domain.Ticket, oldStatus, newStatus domain.TicketStatus, actor events.Actor, note string) {
	from := string(oldStatus)
	to := string(newStatus)
	s.recordAudit(ctx, &domain.TicketEvent{
		TicketID:   ticket.ID,
		EventType:  domain.AuditStatusChanged,
		FromStatus: &from,
		ToStatus:   &to,
		Actor:      auditActor(actor),
		Note:       note,
	})
}

func (s *TicketService) recordAudit(ctx context.Context, event *domain.TicketEvent) {
	if s.auditTrail == nil {
		return
	}
	if err := s.auditTrail.Insert(ctx, event); err != nil {
		s.logger.Warn("audit insert failed", zap.String("ticket_id", event.TicketID), zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func generateReference() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func systemActor() events.Actor {
	return events.Actor{Type: events.ActorSystem}
}

func schedulerActor() events.Actor {
	return events.Actor{Type: events.ActorScheduler}
}

func operatorActor(operatorID string) events.Actor {
	return events.Actor{
		Type:       events.ActorOperator,
		OperatorID: &operatorID,
	}
}

func auditActor(actor events.Actor) string {
	if actor.Type == events.ActorOperator && actor.OperatorID != nil {
		return "operator:" + *actor.OperatorID
	}
	return string(actor.Type)
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:        {domain.TicketStatusAIDrafted, domain.TicketStatusResolved},
	domain.TicketStatusAIDrafted:  {domain.TicketStatusAutoSent, domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusInProgress: {domain.TicketStatusResolved},
	domain.TicketStatusAutoSent:   {domain.TicketStatusResolved},
	domain.TicketStatusResolved:   {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
