package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/classifier"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/observability"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/internal/triage"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

const (
	defaultSubject = "(без темы)"
	defaultBody    = "(пустое письмо)"

	maxBatchLimit = 50
)

// Report summarizes one ingestion batch.
type Report struct {
	Fetched    int `json:"fetched"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// IngestService owns the inbound pipeline: fetch messages, deduplicate,
// open tickets, run triage, and either auto-send or route to operators.
type IngestService struct {
	source     mail.Source
	classifier classifier.Classifier
	engine     *triage.Engine
	tickets    repository.TicketRepository
	ingestion  repository.IngestionRepository
	kb         repository.KBRepository
	mailLog    repository.MailLogRepository
	triageRuns repository.TriageRunRepository
	ticketSvc  *TicketService
	metrics    *observability.Metrics
	logger     *zap.Logger

	pipelineVersion string
	staleness       time.Duration
	autoSendEnabled bool
	defaultLimit    int
}

// IngestDependencies bundles collaborators for the ingest service.
type IngestDependencies struct {
	Source        mail.Source
	Classifier    classifier.Classifier
	Engine        *triage.Engine
	TicketRepo    repository.TicketRepository
	IngestionRepo repository.IngestionRepository
	KBRepo        repository.KBRepository
	MailLogRepo   repository.MailLogRepository
	TriageRunRepo repository.TriageRunRepository
	TicketService *TicketService
	Metrics       *observability.Metrics
	Logger        *zap.Logger

	PipelineVersion string
	Staleness       time.Duration
	AutoSendEnabled bool
	DefaultLimit    int
}

// NewIngestService constructs the service.
func NewIngestService(deps IngestDependencies) *IngestService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	staleness := deps.Staleness
	if staleness <= 0 {
		staleness = 15 * time.Minute
	}
	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &IngestService{
		source:          deps.Source,
		classifier:      deps.Classifier,
		engine:          deps.Engine,
		tickets:         deps.TicketRepo,
		ingestion:       deps.IngestionRepo,
		kb:              deps.KBRepo,
		mailLog:         deps.MailLogRepo,
		triageRuns:      deps.TriageRunRepo,
		ticketSvc:       deps.TicketService,
		metrics:         deps.Metrics,
		logger:          logger,
		pipelineVersion: deps.PipelineVersion,
		staleness:       staleness,
		autoSendEnabled: deps.AutoSendEnabled,
		defaultLimit:    defaultLimit,
	}
}

// IngestBatch fetches up to limit messages from the mailbox and runs the
// full pipeline on each. A failing message is counted and logged but
// never aborts the remainder of the batch.
func (s *IngestService) IngestBatch(ctx context.Context, mailbox string, limit int) (*Report, error) {
	if s.source == nil {
		return nil, apperrors.NewTransportError(errors.New("no mail source configured"))
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxBatchLimit {
		limit = maxBatchLimit
	}

	messages, err := s.source.FetchNew(ctx, mailbox, limit)
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Errorf("fetch mailbox %q: %w", mailbox, err))
	}

	report := &Report{Fetched: len(messages)}
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch s.processMessage(ctx, msg) {
		case observability.OutcomeCreated:
			report.Created++
		case observability.OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Failed++
		}
	}
	s.logger.Info("ingest batch finished",
		zap.String("mailbox", mailbox),
		zap.Int("fetched", report.Fetched),
		zap.Int("created", report.Created),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed))
	return report, nil
}

// ProcessLatest runs the pipeline on the single most recent message.
func (s *IngestService) ProcessLatest(ctx context.Context, mailbox string) (*Report, error) {
	return s.IngestBatch(ctx, mailbox, 1)
}

// processMessage runs dedup, ticket creation, and triage for one message
// and reports the ingest outcome.
func (s *IngestService) processMessage(ctx context.Context, msg mail.RawMessage) string {
	outcome, err := s.ingestOne(ctx, msg)
	if err != nil {
		s.logger.Error("message ingest failed",
			zap.String("source_id", msg.SourceID),
			zap.String("from", msg.From),
			zap.Error(err))
		outcome = observability.OutcomeFailed
	}
	if s.metrics != nil {
		s.metrics.RecordIngest(outcome)
	}
	return outcome
}

func (s *IngestService) ingestOne(ctx context.Context, msg mail.RawMessage) (string, error) {
	if msg.SourceID == "" {
		return observability.OutcomeFailed, errors.New("message has empty source id")
	}

	if err := s.claimSource(ctx, msg.SourceID); err != nil {
		switch {
		case apperrors.IsCode(err, apperrors.CodeDuplicateSource):
			// Already ingested: the no-op success path.
			return observability.OutcomeDuplicate, nil
		case apperrors.IsCode(err, apperrors.CodeIngestionInFlight):
			// Another poller holds the reservation and will finish the job.
			s.logger.Debug("source held by another worker", zap.String("source_id", msg.SourceID))
			return observability.OutcomeDuplicate, nil
		default:
			return observability.OutcomeFailed, err
		}
	}

	// A reclaimed reservation may belong to a ticket whose bind never
	// landed; reuse it instead of opening a second ticket.
	if existing, err := s.tickets.GetBySourceMessageID(ctx, msg.SourceID); err == nil {
		if bindErr := s.ingestion.Bind(ctx, msg.SourceID, existing.ID); bindErr != nil {
			s.logger.Warn("rebind of existing ticket failed",
				zap.String("source_id", msg.SourceID), zap.Error(bindErr))
		}
		return observability.OutcomeDuplicate, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return observability.OutcomeFailed, err
	}

	ticket, err := s.createTicket(ctx, msg)
	if err != nil {
		return observability.OutcomeFailed, err
	}

	if err := s.ingestion.Bind(ctx, msg.SourceID, ticket.ID); err != nil {
		s.logger.Error("reservation bind failed",
			zap.String("source_id", msg.SourceID),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	}

	updated, err := s.TriageTicket(ctx, ticket)
	if err != nil {
		// The ticket stays new; the triage retry job picks it up later.
		s.logger.Warn("triage failed, ticket left untriaged",
			zap.String("ticket_id", ticket.ID),
			zap.String("reference", ticket.Reference),
			zap.Error(err))
		return observability.OutcomeCreated, nil
	}

	s.maybeAutoSend(ctx, updated)
	return observability.OutcomeCreated, nil
}

// claimSource atomically claims the source id. A nil return means this
// caller owns the id and must create the ticket. Bound ids come back as
// DuplicateSource, fresh reservations held elsewhere as IngestionInFlight.
func (s *IngestService) claimSource(ctx context.Context, sourceID string) error {
	inserted, err := s.ingestion.Reserve(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("reserve %q: %w", sourceID, err)
	}
	if inserted {
		return nil
	}

	record, err := s.ingestion.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("inspect reservation %q: %w", sourceID, err)
	}
	if record.State == domain.IngestionStateBound {
		return apperrors.NewDuplicateSource(sourceID)
	}

	// The reservation exists but never bound. If it is older than the
	// staleness window a crashed ingest left it behind; the reclaim is a
	// guarded update, so concurrent pollers cannot both win it.
	claimed, err := s.ingestion.Reclaim(ctx, sourceID, time.Now().Add(-s.staleness))
	if err != nil {
		return fmt.Errorf("reclaim %q: %w", sourceID, err)
	}
	if !claimed {
		return apperrors.NewIngestionInFlight(sourceID)
	}
	return nil
}

func (s *IngestService) createTicket(ctx context.Context, msg mail.RawMessage) (*domain.Ticket, error) {
	subject := msg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	body := msg.Body
	if body == "" {
		body = defaultBody
	}

	ticket := &domain.Ticket{
		Reference:       generateReference(),
		ClientEmail:     msg.From,
		ClientName:      msg.FromName,
		Subject:         subject,
		Question:        body,
		SourceMessageID: msg.SourceID,
		InReplyTo:       msg.InReplyTo,
		ReceivedAt:      msg.ReceivedAt,
	}
	if ticket.ClientEmail == "" {
		ticket.ClientEmail = "unknown"
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.logIncoming(ctx, ticket, msg)
	s.recordAudit(ctx, &domain.TicketEvent{
		TicketID:  ticket.ID,
		EventType: domain.AuditIngested,
		Actor:     "system",
		Note:      "source " + msg.SourceID,
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketIngested,
		TicketID: ticket.ID,
		Actor:    systemActor(),
		Payload: events.TicketIngestedPayload{
			Reference:   ticket.Reference,
			SourceID:    msg.SourceID,
			ClientEmail: ticket.ClientEmail,
			Subject:     ticket.Subject,
		},
	})
	return ticket, nil
}

// TriageTicket classifies the ticket, runs the auto-send gate, and
// applies the outcome. A classifier failure leaves the ticket untouched
// in its current status with a failed run recorded.
func (s *IngestService) TriageTicket(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	if !ticket.Triagable() {
		return nil, apperrors.NewInvalidTransition(string(ticket.Status), string(domain.TicketStatusAIDrafted))
	}

	totalStart := time.Now()
	verdict, err := s.classifier.Classify(ctx, classifier.Input{
		Subject:     ticket.Subject,
		Question:    ticket.Question,
		ClientEmail: ticket.ClientEmail,
	})
	classifyMS := millisecondsSince(totalStart)
	if s.metrics != nil {
		s.metrics.ObserveClassifierLatency(time.Since(totalStart))
	}
	if err != nil {
		s.recordRun(ctx, ticket.ID, &domain.TriageRun{
			TicketID:        ticket.ID,
			PipelineVersion: s.pipelineVersion,
			ClassifyMS:      classifyMS,
			TotalMS:         millisecondsSince(totalStart),
			Success:         false,
			ErrorText:       err.Error(),
		})
		if s.metrics != nil {
			s.metrics.RecordTriageRun(observability.OutcomeFailed, false)
		}
		return nil, err
	}

	gateStart := time.Now()
	decision := s.engine.Evaluate(triage.Verdict{
		Category:   verdict.Category,
		Priority:   verdict.Priority,
		Tone:       verdict.Tone,
		Confidence: verdict.Confidence,
		Draft:      verdict.DraftReply,
	})
	gateMS := millisecondsSince(gateStart)
	if s.metrics != nil {
		s.metrics.RecordGate(decision.AutoSendAllowed, decision.Reason)
	}

	updated, err := s.ticketSvc.ApplyTriage(ctx, ticket, TriageOutcome{
		Category:        verdict.Category,
		Priority:        verdict.Priority,
		Tone:            decision.Tone,
		Confidence:      verdict.Confidence,
		DraftReply:      verdict.DraftReply,
		Reasoning:       verdict.Reasoning,
		Model:           verdict.Model,
		PipelineVersion: s.pipelineVersion,
		LatencyMS:       millisecondsSince(totalStart),
		AutoSendAllowed: decision.AutoSendAllowed,
		AutoSendReason:  decision.Reason,
		NeedsAttention:  decision.NeedsAttention,
	})
	if err != nil {
		s.recordRun(ctx, ticket.ID, &domain.TriageRun{
			TicketID:        ticket.ID,
			PipelineVersion: s.pipelineVersion,
			ClassifierModel: verdict.Model,
			ClassifyMS:      classifyMS,
			GateMS:          gateMS,
			TotalMS:         millisecondsSince(totalStart),
			FallbackUsed:    verdict.FallbackUsed,
			Success:         false,
			ErrorText:       err.Error(),
		})
		if s.metrics != nil {
			s.metrics.RecordTriageRun(observability.OutcomeFailed, verdict.FallbackUsed)
		}
		return nil, err
	}

	s.replaceCitations(ctx, updated.ID, verdict.Citations)
	s.recordRun(ctx, updated.ID, &domain.TriageRun{
		TicketID:        updated.ID,
		PipelineVersion: s.pipelineVersion,
		ClassifierModel: verdict.Model,
		ClassifyMS:      classifyMS,
		GateMS:          gateMS,
		TotalMS:         millisecondsSince(totalStart),
		FallbackUsed:    verdict.FallbackUsed,
		Success:         true,
	})
	if s.metrics != nil {
		s.metrics.RecordTriageRun(observability.OutcomeSuccess, verdict.FallbackUsed)
	}
	return updated, nil
}

// RetryTriage reruns classification for a ticket whose earlier triage
// never completed, then auto-sends when the gate allows it.
func (s *IngestService) RetryTriage(ctx context.Context, ticket *domain.Ticket) error {
	updated, err := s.TriageTicket(ctx, ticket)
	if err != nil {
		return err
	}
	s.maybeAutoSend(ctx, updated)
	return nil
}

// AutoSendEnabled reports the state of the auto-send master switch.
func (s *IngestService) AutoSendEnabled() bool {
	return s.autoSendEnabled
}

// maybeAutoSend delivers the draft when the gate and the master switch
// both allow it. Failures are left to the send retry job.
func (s *IngestService) maybeAutoSend(ctx context.Context, ticket *domain.Ticket) {
	if ticket == nil || !ticket.AutoSendAllowed {
		return
	}
	if !s.autoSendEnabled {
		s.logger.Info("auto-send suppressed by master switch",
			zap.String("ticket_id", ticket.ID),
			zap.String("reference", ticket.Reference))
		return
	}
	if _, err := s.ticketSvc.AutoSend(ctx, ticket); err != nil {
		s.logger.Warn("auto-send failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("reference", ticket.Reference),
			zap.Error(err))
	}
}

func (s *IngestService) replaceCitations(ctx context.Context, ticketID string, refs []classifier.CitationRef) {
	if s.kb == nil {
		return
	}
	citations := make([]domain.Citation, 0, len(refs))
	for i, ref := range refs {
		citations = append(citations, domain.Citation{
			TicketID:  ticketID,
			Rank:      i + 1,
			KBEntryID: ref.KBEntryID,
			Snippet:   ref.Snippet,
		})
	}
	if err := s.kb.ReplaceCitations(ctx, ticketID, citations); err != nil {
		s.logger.Warn("citation replace failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *IngestService) logIncoming(ctx context.Context, ticket *domain.Ticket, msg mail.RawMessage) {
	if s.mailLog == nil {
		return
	}
	entry := &domain.MailLogEntry{
		TicketID:  &ticket.ID,
		Direction: domain.MailDirectionIncoming,
		Address:   msg.From,
		Subject:   ticket.Subject,
		Body:      ticket.Question,
		MessageID: msg.MessageID,
		InReplyTo: msg.InReplyTo,
		Status:    domain.SendStatusReceived,
	}
	if err := s.mailLog.Insert(ctx, entry); err != nil {
		s.logger.Warn("mail log insert failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *IngestService) recordRun(ctx context.Context, ticketID string, run *domain.TriageRun) {
	if s.triageRuns == nil {
		return
	}
	if err := s.triageRuns.Insert(ctx, run); err != nil {
		s.logger.Warn("triage run insert failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *IngestService) recordAudit(ctx context.Context, event *domain.TicketEvent) {
	s.ticketSvc.recordAudit(ctx, event)
}

func (s *IngestService) publishEvent(ctx context.Context, event events.Event) {
	s.ticketSvc.publishEvent(ctx, event)
}

func millisecondsSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
