package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/classifier"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/triage"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

type ingestFixture struct {
	svc        *IngestService
	ticketSvc  *TicketService
	source     *stubSource
	classifier *stubVerdictClassifier
	tickets    *memTicketRepo
	ingestion  *memIngestionRepo
	kb         *memKBRepo
	runs       *memTriageRuns
	audit      *memEventRepo
	mailLog    *memMailLog
	sender     *stubSender
}

func newIngestFixture(autoSend bool) *ingestFixture {
	tickets := newMemTicketRepo()
	audit := &memEventRepo{}
	mailLog := &memMailLog{}
	sender := &stubSender{}
	bus := events.NewInMemoryDispatcher(zap.NewNop())

	ticketSvc := NewTicketService(TicketDependencies{
		TicketRepo:  tickets,
		EventRepo:   audit,
		MailLogRepo: mailLog,
		Sender:      sender,
		Dispatcher:  bus,
		Logger:      zap.NewNop(),
	})

	source := &stubSource{}
	sc := &stubVerdictClassifier{verdict: classifier.Verdict{
		Category:   "Общий запрос",
		Priority:   domain.TicketPriorityLow,
		Tone:       "Нейтральный",
		Confidence: 0.9,
		DraftReply: "Здравствуйте! Подготовили ответ на ваш вопрос.",
		Reasoning:  "Явных признаков критичного инцидента не найдено.",
		Model:      "stub-model",
	}}
	ingestion := newMemIngestionRepo()
	kb := newMemKBRepo()
	runs := &memTriageRuns{}

	engine := triage.NewEngine(0.75,
		[]string{"Инцидент / Неисправность"},
		[]string{"пароль администратора"})

	svc := NewIngestService(IngestDependencies{
		Source:          source,
		Classifier:      sc,
		Engine:          engine,
		TicketRepo:      tickets,
		IngestionRepo:   ingestion,
		KBRepo:          kb,
		MailLogRepo:     mailLog,
		TriageRunRepo:   runs,
		TicketService:   ticketSvc,
		Logger:          zap.NewNop(),
		PipelineVersion: "v1-test",
		AutoSendEnabled: autoSend,
	})
	return &ingestFixture{
		svc:        svc,
		ticketSvc:  ticketSvc,
		source:     source,
		classifier: sc,
		tickets:    tickets,
		ingestion:  ingestion,
		kb:         kb,
		runs:       runs,
		audit:      audit,
		mailLog:    mailLog,
		sender:     sender,
	}
}

func rawMsg(id, subject, body string) mail.RawMessage {
	return mail.RawMessage{
		SourceID:   id,
		MessageID:  id,
		From:       "client@example.com",
		FromName:   "Иван Петров",
		Subject:    subject,
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

func TestIngestHighConfidenceAutoSends(t *testing.T) {
	f := newIngestFixture(true)
	f.source.messages = []mail.RawMessage{rawMsg("<a@example.com>", "Вопрос по тарифам", "Какие у вас тарифы на обслуживание?")}

	report, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, &Report{Fetched: 1, Created: 1}, report)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<a@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAutoSent, ticket.Status)
	require.True(t, ticket.AutoSendAllowed)
	require.Empty(t, ticket.AutoSendReason)
	require.False(t, ticket.NeedsAttention)
	require.Equal(t, 1, ticket.SendAttempts)
	require.Equal(t, 1, f.sender.sentCount())

	record, err := f.ingestion.Get(context.Background(), "<a@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.IngestionStateBound, record.State)
	require.Equal(t, ticket.ID, *record.TicketID)

	run, err := f.runs.LastForTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.True(t, run.Success)
	require.Equal(t, "stub-model", run.ClassifierModel)
}

func TestIngestSecondFetchIsNoOp(t *testing.T) {
	f := newIngestFixture(false)
	f.source.messages = []mail.RawMessage{rawMsg("<dup@example.com>", "Вопрос", "Как подключить принтер?")}

	first, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<dup@example.com>")
	require.NoError(t, err)

	// The operator resolves the ticket between two polls of the mailbox.
	resolved, err := f.ticketSvc.SendReply(context.Background(), ticket.ID, ticket.Version, "Инструкция во вложении.", operatorActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusResolved, resolved.Status)

	second, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, &Report{Fetched: 1, Duplicates: 1}, second)

	require.Equal(t, 1, f.tickets.count())
	after, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusResolved, after.Status)
	require.Equal(t, resolved.Version, after.Version)
}

func TestIngestClassifierFailureLeavesTicketNew(t *testing.T) {
	f := newIngestFixture(true)
	f.classifier.err = apperrors.NewClassifierError(errors.New("model unavailable"))
	f.source.messages = []mail.RawMessage{rawMsg("<fail@example.com>", "Вопрос", "Почему не работает?")}

	report, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<fail@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusNew, ticket.Status)
	require.Empty(t, ticket.Category)
	require.Empty(t, ticket.DraftReply)
	require.Zero(t, ticket.Confidence)
	require.Nil(t, ticket.ProcessedAt)
	require.Equal(t, 0, f.sender.sentCount())

	run, err := f.runs.LastForTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.False(t, run.Success)
	require.Contains(t, run.ErrorText, "classifier call failed")
}

func TestIngestLowConfidenceGated(t *testing.T) {
	f := newIngestFixture(true)
	f.classifier.verdict.Confidence = 0.5
	f.source.messages = []mail.RawMessage{rawMsg("<low@example.com>", "Вопрос", "Непонятная просьба")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<low@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAIDrafted, ticket.Status)
	require.False(t, ticket.AutoSendAllowed)
	require.Equal(t, "low confidence", ticket.AutoSendReason)
	require.True(t, ticket.NeedsAttention)
	require.Equal(t, 0, f.sender.sentCount())
}

func TestIngestEscalationRiskGated(t *testing.T) {
	f := newIngestFixture(true)
	f.classifier.verdict.Tone = "Негативный"
	f.classifier.verdict.Priority = domain.TicketPriorityHigh
	f.classifier.verdict.Confidence = 0.95
	f.source.messages = []mail.RawMessage{rawMsg("<angry@example.com>", "Безобразие", "Очень недоволен сервисом!")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<angry@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAIDrafted, ticket.Status)
	require.False(t, ticket.AutoSendAllowed)
	require.Equal(t, "escalation risk", ticket.AutoSendReason)
	require.Equal(t, domain.ToneNegative, ticket.Tone)
	require.True(t, ticket.NeedsAttention)
	require.Equal(t, 0, f.sender.sentCount())
}

func TestIngestHighRiskCategoryGated(t *testing.T) {
	f := newIngestFixture(true)
	f.classifier.verdict.Category = "Инцидент / Неисправность"
	f.classifier.verdict.Confidence = 0.86
	f.source.messages = []mail.RawMessage{rawMsg("<incident@example.com>", "Срочно", "Сервер упал")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<incident@example.com>")
	require.NoError(t, err)
	require.Equal(t, "high-risk category requires review", ticket.AutoSendReason)
	require.False(t, ticket.AutoSendAllowed)
}

func TestIngestEmptyMessageGetsDefaults(t *testing.T) {
	f := newIngestFixture(false)
	f.source.messages = []mail.RawMessage{rawMsg("<empty@example.com>", "", "")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<empty@example.com>")
	require.NoError(t, err)
	require.Equal(t, "(без темы)", ticket.Subject)
	require.Equal(t, "(пустое письмо)", ticket.Question)
}

func TestIngestMasterSwitchSuppressesAutoSend(t *testing.T) {
	f := newIngestFixture(false)
	f.source.messages = []mail.RawMessage{rawMsg("<ok@example.com>", "Вопрос", "Хочу уточнить условия")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<ok@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusAIDrafted, ticket.Status)
	require.True(t, ticket.AutoSendAllowed)
	require.Equal(t, 0, f.sender.sentCount())
}

func TestIngestStaleReservationReclaimed(t *testing.T) {
	f := newIngestFixture(false)
	ctx := context.Background()

	// A crashed worker reserved the id but never created the ticket.
	inserted, err := f.ingestion.Reserve(ctx, "<stale@example.com>")
	require.NoError(t, err)
	require.True(t, inserted)
	f.ingestion.records["<stale@example.com>"].ReservedAt = time.Now().Add(-time.Hour)

	f.source.messages = []mail.RawMessage{rawMsg("<stale@example.com>", "Вопрос", "Ау, есть кто живой?")}
	report, err := f.svc.IngestBatch(ctx, "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 1, f.tickets.count())
}

func TestIngestFreshReservationTreatedAsInFlight(t *testing.T) {
	f := newIngestFixture(false)
	ctx := context.Background()

	inserted, err := f.ingestion.Reserve(ctx, "<busy@example.com>")
	require.NoError(t, err)
	require.True(t, inserted)

	f.source.messages = []mail.RawMessage{rawMsg("<busy@example.com>", "Вопрос", "Есть новости?")}
	report, err := f.svc.IngestBatch(ctx, "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, &Report{Fetched: 1, Duplicates: 1}, report)
	require.Equal(t, 0, f.tickets.count())
}

func TestIngestRecoversOrphanedBind(t *testing.T) {
	f := newIngestFixture(false)
	ctx := context.Background()

	// A previous run created the ticket but crashed before binding.
	orphan := &domain.Ticket{
		Reference:       generateReference(),
		ClientEmail:     "client@example.com",
		Subject:         "Вопрос",
		Question:        "Где мой заказ?",
		SourceMessageID: "<orphan@example.com>",
	}
	require.NoError(t, f.tickets.Create(ctx, orphan))
	inserted, err := f.ingestion.Reserve(ctx, "<orphan@example.com>")
	require.NoError(t, err)
	require.True(t, inserted)
	f.ingestion.records["<orphan@example.com>"].ReservedAt = time.Now().Add(-time.Hour)

	f.source.messages = []mail.RawMessage{rawMsg("<orphan@example.com>", "Вопрос", "Где мой заказ?")}
	report, err := f.svc.IngestBatch(ctx, "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, &Report{Fetched: 1, Duplicates: 1}, report)
	require.Equal(t, 1, f.tickets.count())

	record, err := f.ingestion.Get(ctx, "<orphan@example.com>")
	require.NoError(t, err)
	require.Equal(t, domain.IngestionStateBound, record.State)
	require.Equal(t, orphan.ID, *record.TicketID)
}

func TestIngestEmptySourceIDFails(t *testing.T) {
	f := newIngestFixture(false)
	f.source.messages = []mail.RawMessage{{From: "client@example.com", Subject: "Вопрос", Body: "Текст"}}

	report, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	require.Equal(t, &Report{Fetched: 1, Failed: 1}, report)
}

func TestIngestFetchFailureIsTransportError(t *testing.T) {
	f := newIngestFixture(false)
	f.source.err = errors.New("pop3 connect: connection refused")

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeTransportError))
}

func TestIngestStoresCitations(t *testing.T) {
	f := newIngestFixture(false)
	f.classifier.verdict.Citations = []classifier.CitationRef{
		{KBEntryID: "kb-1", Title: "Сброс пароля", Snippet: "Откройте настройки"},
		{KBEntryID: "kb-2", Title: "Настройка VPN", Snippet: "Скачайте профиль"},
	}
	f.source.messages = []mail.RawMessage{rawMsg("<cite@example.com>", "Вопрос", "Как сбросить пароль?")}

	_, err := f.svc.IngestBatch(context.Background(), "INBOX", 10)
	require.NoError(t, err)

	ticket, err := f.tickets.GetBySourceMessageID(context.Background(), "<cite@example.com>")
	require.NoError(t, err)
	citations, err := f.kb.ListCitations(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, citations, 2)
	require.Equal(t, 1, citations[0].Rank)
	require.Equal(t, "kb-1", citations[0].KBEntryID)
	require.Equal(t, 2, citations[1].Rank)
}

func TestProcessLatestTakesOne(t *testing.T) {
	f := newIngestFixture(false)
	f.source.messages = []mail.RawMessage{
		rawMsg("<m1@example.com>", "Первое", "Текст 1"),
		rawMsg("<m2@example.com>", "Второе", "Текст 2"),
	}

	report, err := f.svc.ProcessLatest(context.Background(), "INBOX")
	require.NoError(t, err)
	require.Equal(t, 1, report.Fetched)
	require.Equal(t, 1, f.tickets.count())
}
