package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/service"
)

func (s *Scheduler) registerBuiltinHandlers() {
	s.RegisterHandler("ingest.poll", s.handleMailboxPoll)
	s.RegisterHandler("triage.retry", s.handleTriageRetry)
	s.RegisterHandler("send.retry", s.handleSendRetry)
	s.RegisterHandler("ingest.sweep", s.handleReservationSweep)
	s.RegisterHandler("ticket.autoResolve", s.handleAutoResolve)
}

// handleMailboxPoll fetches a batch of new messages and pushes them
// through the pipeline.
func (s *Scheduler) handleMailboxPoll(ctx context.Context, job *Job) error {
	if s.ingest == nil {
		s.logger.Debug("ingest pipeline unavailable, skipping mailbox poll")
		return nil
	}
	limit := intFromConfig(job.Config, "limit", 10)
	report, err := s.ingest.IngestBatch(ctx, s.mailbox, limit)
	if err != nil {
		return err
	}
	if report.Fetched > 0 {
		s.logger.Info("mailbox poll finished",
			zap.String("mailbox", s.mailbox),
			zap.Int("fetched", report.Fetched),
			zap.Int("created", report.Created),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("failed", report.Failed))
	}
	return nil
}

// handleTriageRetry reruns triage for tickets stuck in new, typically
// after a classifier outage. Tickets that exhausted their attempts are
// left for an operator.
func (s *Scheduler) handleTriageRetry(ctx context.Context, job *Job) error {
	if s.ingest == nil || s.ticketRepo == nil {
		s.logger.Debug("collaborators unavailable, skipping triage retry")
		return nil
	}
	limit := intFromConfig(job.Config, "limit", 20)
	maxAttempts := int64(intFromConfig(job.Config, "max_attempts", 5))
	backoff := time.Duration(intFromConfig(job.Config, "backoff_seconds", 120)) * time.Second

	cutoff := s.now().Add(-backoff)
	tickets, err := s.ticketRepo.ListByStatusBefore(ctx, domain.TicketStatusNew, cutoff, limit)
	if err != nil {
		return err
	}

	retried := 0
	for i := range tickets {
		ticket := &tickets[i]
		if s.triageRuns != nil {
			attempts, err := s.triageRuns.CountForTicket(ctx, ticket.ID)
			if err != nil {
				s.logger.Warn("triage attempt count failed",
					zap.String("ticket_id", ticket.ID), zap.Error(err))
				continue
			}
			if attempts >= maxAttempts {
				continue
			}
		}
		if err := s.ingest.RetryTriage(ctx, ticket); err != nil {
			s.logger.Warn("triage retry failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("reference", ticket.Reference),
				zap.Error(err))
			continue
		}
		retried++
	}
	if retried > 0 {
		s.logger.Info("triage retry finished",
			zap.Int("candidates", len(tickets)), zap.Int("retried", retried))
	}
	return nil
}

// handleSendRetry re-attempts delivery for gated-open drafts whose
// earlier auto-send hit a transport failure.
func (s *Scheduler) handleSendRetry(ctx context.Context, job *Job) error {
	if s.ingest == nil || s.tickets == nil || s.ticketRepo == nil {
		s.logger.Debug("collaborators unavailable, skipping send retry")
		return nil
	}
	if !s.ingest.AutoSendEnabled() {
		return nil
	}
	limit := intFromConfig(job.Config, "limit", 20)
	maxAttempts := intFromConfig(job.Config, "max_attempts", 3)

	tickets, err := s.ticketRepo.ListAutoSendRetry(ctx, maxAttempts, limit)
	if err != nil {
		return err
	}

	sent := 0
	for i := range tickets {
		ticket := &tickets[i]
		if _, err := s.tickets.AutoSend(ctx, ticket); err != nil {
			s.logger.Warn("send retry failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("reference", ticket.Reference),
				zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info("send retry finished",
			zap.Int("candidates", len(tickets)), zap.Int("sent", sent))
	}
	return nil
}

// handleReservationSweep surfaces reservations that never bound to a
// ticket. Reclaim happens lazily on the next ingest of the same id;
// this job only makes the backlog visible.
func (s *Scheduler) handleReservationSweep(ctx context.Context, job *Job) error {
	if s.reservations == nil {
		s.logger.Debug("reservation store unavailable, skipping sweep")
		return nil
	}
	staleness := time.Duration(intFromConfig(job.Config, "staleness_minutes", 15)) * time.Minute
	stale, err := s.reservations.CountStale(ctx, s.now().Add(-staleness))
	if err != nil {
		return err
	}
	if stale > 0 {
		s.logger.Warn("stale ingestion reservations awaiting reclaim",
			zap.Int64("count", stale))
	}
	return nil
}

// handleAutoResolve resolves auto-sent tickets whose quiet period
// elapsed without the client writing back.
func (s *Scheduler) handleAutoResolve(ctx context.Context, job *Job) error {
	if s.tickets == nil || s.ticketRepo == nil {
		s.logger.Debug("collaborators unavailable, skipping auto-resolve")
		return nil
	}
	limit := intFromConfig(job.Config, "limit", 50)
	quiet := time.Duration(intFromConfig(job.Config, "quiet_hours", 72)) * time.Hour

	cutoff := s.now().Add(-quiet)
	tickets, err := s.ticketRepo.ListByStatusBefore(ctx, domain.TicketStatusAutoSent, cutoff, limit)
	if err != nil {
		return err
	}

	resolved := domain.TicketStatusResolved
	actor := events.Actor{Type: events.ActorScheduler}
	count := 0
	for i := range tickets {
		ticket := tickets[i]
		patch := service.TicketPatch{Status: &resolved}
		if _, err := s.tickets.Update(ctx, ticket.ID, ticket.Version, patch, actor); err != nil {
			s.logger.Warn("auto-resolve failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("reference", ticket.Reference),
				zap.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		s.logger.Info("quiet tickets auto-resolved", zap.Int("resolved", count))
	}
	return nil
}
