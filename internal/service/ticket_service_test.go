package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

type ticketServiceFixture struct {
	svc     *TicketService
	repo    *memTicketRepo
	audit   *memEventRepo
	mailLog *memMailLog
	sender  *stubSender
	bus     events.Dispatcher
}

func newTicketServiceFixture() *ticketServiceFixture {
	repo := newMemTicketRepo()
	audit := &memEventRepo{}
	mailLog := &memMailLog{}
	sender := &stubSender{}
	bus := events.NewInMemoryDispatcher(zap.NewNop())

	svc := NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		EventRepo:   audit,
		MailLogRepo: mailLog,
		Sender:      sender,
		Dispatcher:  bus,
		Logger:      zap.NewNop(),
	})
	return &ticketServiceFixture{svc: svc, repo: repo, audit: audit, mailLog: mailLog, sender: sender, bus: bus}
}

// seedTicket creates a base ticket and optionally applies extra state
// through the same versioned write the service uses.
func (f *ticketServiceFixture) seedTicket(t *testing.T, mutate func(*domain.Ticket)) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Reference:       generateReference(),
		ClientEmail:     "client@example.com",
		ClientName:      "Иван Петров",
		Subject:         "Принтер не печатает",
		Question:        "После обновления драйвера печать не идёт.",
		SourceMessageID: "<msg-1@example.com>",
	}
	require.NoError(t, f.repo.Create(context.Background(), ticket))
	if mutate != nil {
		mutate(ticket)
		require.NoError(t, f.repo.UpdateVersioned(context.Background(), ticket, ticket.Version))
	}
	return ticket
}

func (f *ticketServiceFixture) stored(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func draftedTicket(draft string, allowed bool) func(*domain.Ticket) {
	return func(ticket *domain.Ticket) {
		ticket.Status = domain.TicketStatusAIDrafted
		ticket.DraftReply = draft
		ticket.AutoSendAllowed = allowed
		ticket.Category = "Общий запрос"
		ticket.Confidence = 0.9
	}
}

func TestUpdateAppliesPatch(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, nil)

	high := domain.TicketPriorityHigh
	category := "Инцидент / Неисправность"
	answer := "Перезагрузите устройство."
	updated, err := f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{
		Priority:    &high,
		Category:    &category,
		FinalAnswer: &answer,
	}, operatorActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketPriorityHigh, updated.Priority)
	require.Equal(t, category, updated.Category)
	require.Equal(t, answer, *updated.FinalAnswer)
	require.Equal(t, ticket.Version+1, updated.Version)
	require.Equal(t, domain.TicketStatusNew, updated.Status)
}

func TestUpdateStaleVersionRejected(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, nil)

	high := domain.TicketPriorityHigh
	_, err := f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{Priority: &high}, operatorActor("op-1"))
	require.NoError(t, err)

	low := domain.TicketPriorityLow
	_, err = f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{Priority: &low}, operatorActor("op-2"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeVersionConflict))

	require.Equal(t, domain.TicketPriorityHigh, f.stored(t, ticket.ID).Priority)
}

func TestUpdateConcurrentExactlyOneWins(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, nil)

	high := domain.TicketPriorityHigh
	low := domain.TicketPriorityLow
	patches := []TicketPatch{{Priority: &high}, {Priority: &low}}

	var wg sync.WaitGroup
	errs := make([]error, len(patches))
	for i := range patches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Update(context.Background(), ticket.ID, ticket.Version, patches[i], operatorActor("op-1"))
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperrors.IsCode(err, apperrors.CodeVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)
	require.Equal(t, ticket.Version+1, f.stored(t, ticket.ID).Version)
}

func TestUpdateResolvedIsTerminal(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, func(ticket *domain.Ticket) {
		ticket.Status = domain.TicketStatusResolved
	})

	next := domain.TicketStatusInProgress
	_, err := f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{Status: &next}, operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	require.Equal(t, domain.TicketStatusResolved, f.stored(t, ticket.ID).Status)
}

func TestUpdateRejectsAutoSentTarget(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Здравствуйте!", true))

	next := domain.TicketStatusAutoSent
	_, err := f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{Status: &next}, operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestUpdateStatusChangeRecordsTrail(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик.", false))

	next := domain.TicketStatusInProgress
	updated, err := f.svc.Update(context.Background(), ticket.ID, ticket.Version, TicketPatch{Status: &next}, operatorActor("op-7"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusInProgress, updated.Status)

	changes := f.audit.ofType(domain.AuditStatusChanged)
	require.Len(t, changes, 1)
	require.Equal(t, "ai_drafted", *changes[0].FromStatus)
	require.Equal(t, "in_progress", *changes[0].ToStatus)
	require.Equal(t, "operator:op-7", changes[0].Actor)
}

func TestApplyTriageMovesToDrafted(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, nil)

	var attention []events.Event
	f.bus.Subscribe(events.EventTicketNeedsAttention, func(_ context.Context, event events.Event) error {
		attention = append(attention, event)
		return nil
	})

	updated, err := f.svc.ApplyTriage(context.Background(), ticket, TriageOutcome{
		Category:        "Общий запрос",
		Priority:        domain.TicketPriorityLow,
		Tone:            domain.ToneNeutral,
		Confidence:      0.68,
		DraftReply:      "Здравствуйте! Уточните, пожалуйста, детали.",
		Model:           "heuristic-analyzer",
		AutoSendAllowed: false,
		AutoSendReason:  "low confidence",
		NeedsAttention:  true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAIDrafted, updated.Status)
	require.NotNil(t, updated.ProcessedAt)
	require.Equal(t, "low confidence", updated.AutoSendReason)
	require.True(t, updated.NeedsAttention)

	stored := f.stored(t, ticket.ID)
	require.Equal(t, domain.TicketStatusAIDrafted, stored.Status)
	require.Equal(t, 0.68, stored.Confidence)
	require.Len(t, attention, 1)
	payload, ok := attention[0].Payload.(events.TicketNeedsAttentionPayload)
	require.True(t, ok)
	require.Equal(t, "low confidence", payload.Reason)
}

func TestApplyTriageRejectedOnceResolved(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, func(ticket *domain.Ticket) {
		ticket.Status = domain.TicketStatusResolved
	})

	_, err := f.svc.ApplyTriage(context.Background(), ticket, TriageOutcome{Category: "Общий запрос"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestSendReplyResolvesTicket(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик ответа.", false))

	body := "Добрый день! Обновите драйвер до версии 12.4."
	updated, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, body, operatorActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusResolved, updated.Status)
	require.Equal(t, body, *updated.FinalAnswer)
	require.NotNil(t, updated.SentAt)
	require.NotNil(t, updated.ResolvedAt)
	require.Equal(t, 1, updated.SendAttempts)

	require.Equal(t, 1, f.sender.sentCount())
	require.Equal(t, "client@example.com", f.sender.sent[0].To)
	require.Equal(t, "<msg-1@example.com>", f.sender.sent[0].InReplyTo)

	log, err := f.svc.MailHistory(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, domain.MailDirectionOutgoing, log[0].Direction)
	require.Equal(t, domain.SendStatusSent, log[0].Status)

	require.Len(t, f.audit.ofType(domain.AuditReplySent), 1)
}

func TestSendReplyFallsBackToDraft(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик ответа.", false))

	updated, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, "", operatorActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, "Черновик ответа.", *updated.FinalAnswer)
	require.Equal(t, "Черновик ответа.", f.sender.sent[0].Body)
}

func TestSendReplyEmptyEverywhereRejected(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("", false))

	_, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, "   ", operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
	require.Equal(t, 0, f.sender.sentCount())
}

func TestSendReplyTransportFailureKeepsState(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик ответа.", false))
	f.sender.err = apperrors.NewTransportError(errors.New("smtp: connection refused"))

	_, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, "Ответ.", operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeTransportError))

	stored := f.stored(t, ticket.ID)
	require.Equal(t, domain.TicketStatusAIDrafted, stored.Status)
	require.Equal(t, ticket.Version, stored.Version)
	require.Nil(t, stored.FinalAnswer)
	require.Nil(t, stored.SentAt)
	require.Equal(t, 0, stored.SendAttempts)

	log, logErr := f.svc.MailHistory(context.Background(), ticket.ID)
	require.NoError(t, logErr)
	require.Len(t, log, 1)
	require.Equal(t, domain.SendStatusFailed, log[0].Status)
	require.Len(t, f.audit.ofType(domain.AuditSendFailed), 1)
}

func TestSendReplyIllegalFromNew(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, nil)

	_, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, "Ответ.", operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestSendReplyIllegalAfterResolve(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, func(ticket *domain.Ticket) {
		ticket.Status = domain.TicketStatusResolved
	})

	_, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version, "Ответ.", operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	require.Equal(t, 0, f.sender.sentCount())
}

func TestSendReplyStaleVersionPrecheck(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик.", false))

	_, err := f.svc.SendReply(context.Background(), ticket.ID, ticket.Version-1, "Ответ.", operatorActor("op-1"))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeVersionConflict))
	require.Equal(t, 0, f.sender.sentCount())
}

func TestAutoSendDelivers(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Здравствуйте! Инструкция во вложении.", true))

	updated, err := f.svc.AutoSend(context.Background(), f.stored(t, ticket.ID))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAutoSent, updated.Status)
	require.Equal(t, 1, updated.SendAttempts)
	require.NotNil(t, updated.SentAt)
	require.Equal(t, 1, f.sender.sentCount())
}

func TestAutoSendRefusedWhenGated(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик.", false))

	_, err := f.svc.AutoSend(context.Background(), f.stored(t, ticket.ID))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
	require.Equal(t, 0, f.sender.sentCount())
	require.Equal(t, domain.TicketStatusAIDrafted, f.stored(t, ticket.ID).Status)
}

func TestAutoSendRefusedAfterAttemptLimit(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, func(ticket *domain.Ticket) {
		draftedTicket("Черновик.", true)(ticket)
		ticket.SendAttempts = 3
	})

	_, err := f.svc.AutoSend(context.Background(), f.stored(t, ticket.ID))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
	require.Equal(t, 0, f.sender.sentCount())
}

func TestAutoSendTransportFailurePersistsAttempt(t *testing.T) {
	f := newTicketServiceFixture()
	ticket := f.seedTicket(t, draftedTicket("Черновик.", true))
	f.sender.err = apperrors.NewTransportError(errors.New("smtp: timeout"))

	_, err := f.svc.AutoSend(context.Background(), f.stored(t, ticket.ID))
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeTransportError))

	stored := f.stored(t, ticket.ID)
	require.Equal(t, domain.TicketStatusAIDrafted, stored.Status)
	require.Equal(t, 1, stored.SendAttempts)
	require.Len(t, f.audit.ofType(domain.AuditSendFailed), 1)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to domain.TicketStatus
		ok       bool
	}{
		{domain.TicketStatusNew, domain.TicketStatusAIDrafted, true},
		{domain.TicketStatusNew, domain.TicketStatusResolved, true},
		{domain.TicketStatusNew, domain.TicketStatusInProgress, false},
		{domain.TicketStatusAIDrafted, domain.TicketStatusAutoSent, true},
		{domain.TicketStatusAIDrafted, domain.TicketStatusInProgress, true},
		{domain.TicketStatusAIDrafted, domain.TicketStatusResolved, true},
		{domain.TicketStatusAutoSent, domain.TicketStatusResolved, true},
		{domain.TicketStatusAutoSent, domain.TicketStatusInProgress, false},
		{domain.TicketStatusInProgress, domain.TicketStatusResolved, true},
		{domain.TicketStatusResolved, domain.TicketStatusNew, false},
		{domain.TicketStatusResolved, domain.TicketStatusInProgress, false},
		{domain.TicketStatusResolved, domain.TicketStatusAIDrafted, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, isValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
