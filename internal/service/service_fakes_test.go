package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/supportops/mailtriage/internal/classifier"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/repository"
)

// memTicketRepo mirrors the Postgres repository's compare-and-swap
// versioning so concurrency tests exercise the same guard.
type memTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	ticket.ID = uuid.NewString()
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
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
		ticket.ReceivedAt = now
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *stored
	return &clone, nil
}

func (r *memTicketRepo) GetByReference(_ context.Context, reference string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tickets {
		if stored.Reference == reference {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) GetBySourceMessageID(_ context.Context, sourceID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tickets {
		if stored.SourceMessageID == sourceID {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) UpdateVersioned(_ context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: have %d, expected %d", repository.ErrVersionConflict, stored.Version, expectedVersion)
	}
	ticket.Version = expectedVersion + 1
	ticket.UpdatedAt = time.Now()
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *memTicketRepo) ListByStatusBefore(_ context.Context, status domain.TicketStatus, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.Status == status && stored.UpdatedAt.Before(cutoff) {
			result = append(result, *stored)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memTicketRepo) ListAutoSendRetry(_ context.Context, maxAttempts, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.Status == domain.TicketStatusAIDrafted && stored.AutoSendAllowed &&
			stored.SendAttempts > 0 && stored.SendAttempts < maxAttempts {
			result = append(result, *stored)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memTicketRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

type memEventRepo struct {
	mu     sync.Mutex
	events []domain.TicketEvent
}

func (r *memEventRepo) Insert(_ context.Context, event *domain.TicketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now()
	if event.Actor == "" {
		event.Actor = "system"
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *memEventRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketEvent
	for _, event := range r.events {
		if event.TicketID == ticketID {
			result = append(result, event)
		}
	}
	return result, nil
}

func (r *memEventRepo) ofType(eventType string) []domain.TicketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketEvent
	for _, event := range r.events {
		if event.EventType == eventType {
			result = append(result, event)
		}
	}
	return result
}

type memMailLog struct {
	mu      sync.Mutex
	entries []domain.MailLogEntry
}

func (r *memMailLog) Insert(_ context.Context, entry *domain.MailLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memMailLog) ListByTicket(_ context.Context, ticketID string) ([]domain.MailLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.MailLogEntry
	for _, entry := range r.entries {
		if entry.TicketID != nil && *entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type memIngestionRepo struct {
	mu      sync.Mutex
	records map[string]*domain.IngestionRecord
}

func newMemIngestionRepo() *memIngestionRepo {
	return &memIngestionRepo{records: make(map[string]*domain.IngestionRecord)}
}

func (r *memIngestionRepo) Reserve(_ context.Context, sourceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[sourceID]; exists {
		return false, nil
	}
	r.records[sourceID] = &domain.IngestionRecord{
		SourceID:   sourceID,
		State:      domain.IngestionStateReserved,
		ReservedAt: time.Now(),
	}
	return true, nil
}

func (r *memIngestionRepo) Get(_ context.Context, sourceID string) (*domain.IngestionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sourceID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *record
	return &clone, nil
}

func (r *memIngestionRepo) Bind(_ context.Context, sourceID, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sourceID]
	if !ok || record.State != domain.IngestionStateReserved {
		return pgx.ErrNoRows
	}
	now := time.Now()
	record.State = domain.IngestionStateBound
	record.TicketID = &ticketID
	record.BoundAt = &now
	return nil
}

func (r *memIngestionRepo) Reclaim(_ context.Context, sourceID string, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[sourceID]
	if !ok || record.State != domain.IngestionStateReserved {
		return false, nil
	}
	if !record.ReservedAt.Before(staleBefore) {
		return false, nil
	}
	record.ReservedAt = time.Now()
	return true, nil
}

func (r *memIngestionRepo) CountStale(_ context.Context, staleBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, record := range r.records {
		if record.State == domain.IngestionStateReserved && record.ReservedAt.Before(staleBefore) {
			count++
		}
	}
	return count, nil
}

type memKBRepo struct {
	mu        sync.Mutex
	entries   []domain.KBEntry
	citations map[string][]domain.Citation
}

func newMemKBRepo() *memKBRepo {
	return &memKBRepo{citations: make(map[string][]domain.Citation)}
}

func (r *memKBRepo) CreateEntry(_ context.Context, entry *domain.KBEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memKBRepo) GetEntry(_ context.Context, id string) (*domain.KBEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ID == id {
			clone := entry
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memKBRepo) ListEntries(_ context.Context, limit, offset int) ([]domain.KBEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.KBEntry(nil), r.entries...), nil
}

func (r *memKBRepo) Search(_ context.Context, term, category string, limit int) ([]domain.KBEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(term)
	var result []domain.KBEntry
	for _, entry := range r.entries {
		if category != "" && entry.Category != category {
			continue
		}
		haystack := strings.ToLower(entry.Title + "\n" + entry.QuestionSummary + "\n" + entry.Resolution)
		if strings.Contains(haystack, lower) {
			result = append(result, entry)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *memKBRepo) ReplaceCitations(_ context.Context, ticketID string, citations []domain.Citation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.citations[ticketID] = append([]domain.Citation(nil), citations...)
	return nil
}

func (r *memKBRepo) ListCitations(_ context.Context, ticketID string) ([]domain.Citation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Citation(nil), r.citations[ticketID]...), nil
}

type memTriageRuns struct {
	mu   sync.Mutex
	runs []domain.TriageRun
}

func (r *memTriageRuns) Insert(_ context.Context, run *domain.TriageRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now()
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memTriageRuns) LastForTicket(_ context.Context, ticketID string) (*domain.TriageRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].TicketID == ticketID {
			clone := r.runs[i]
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTriageRuns) CountForTicket(_ context.Context, ticketID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, run := range r.runs {
		if run.TicketID == ticketID {
			count++
		}
	}
	return count, nil
}

type memOperatorRepo struct {
	mu        sync.Mutex
	operators map[string]*domain.Operator
}

func newMemOperatorRepo() *memOperatorRepo {
	return &memOperatorRepo{operators: make(map[string]*domain.Operator)}
}

func (r *memOperatorRepo) Create(_ context.Context, operator *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	operator.ID = uuid.NewString()
	operator.CreatedAt = now
	operator.UpdatedAt = now
	if operator.Role == "" {
		operator.Role = domain.OperatorRoleAgent
	}
	clone := *operator
	r.operators[operator.ID] = &clone
	return nil
}

func (r *memOperatorRepo) GetByID(_ context.Context, id string) (*domain.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.operators[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *stored
	return &clone, nil
}

func (r *memOperatorRepo) GetByEmail(_ context.Context, email string) (*domain.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.operators {
		if stored.Email == email {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memOperatorRepo) List(_ context.Context) ([]domain.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Operator
	for _, stored := range r.operators {
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *memOperatorRepo) Update(_ context.Context, operator *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.operators[operator.ID]; !ok {
		return pgx.ErrNoRows
	}
	operator.UpdatedAt = time.Now()
	clone := *operator
	r.operators[operator.ID] = &clone
	return nil
}

func (r *memOperatorRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.operators[id]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Active = active
	stored.UpdatedAt = time.Now()
	return nil
}

type memResetRepo struct {
	mu     sync.Mutex
	tokens map[string]*repository.PasswordResetToken
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{tokens: make(map[string]*repository.PasswordResetToken)}
}

func (r *memResetRepo) Create(_ context.Context, token *repository.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = uuid.NewString()
	token.CreatedAt = time.Now()
	clone := *token
	r.tokens[token.Token] = &clone
	return nil
}

func (r *memResetRepo) GetByToken(_ context.Context, tokenStr string) (*repository.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tokens[tokenStr]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *stored
	return &clone, nil
}

func (r *memResetRepo) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tokens {
		if stored.ID == id {
			now := time.Now()
			stored.UsedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

// stubSender records outbound messages and can be armed to fail.
type stubSender struct {
	mu   sync.Mutex
	sent []mail.OutboundMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, msg mail.OutboundMessage) (*mail.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, msg)
	return &mail.DeliveryReceipt{
		MessageID: fmt.Sprintf("<out-%d@mailtriage.test>", len(s.sent)),
		SentAt:    time.Now(),
	}, nil
}

func (s *stubSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubSource struct {
	messages []mail.RawMessage
	err      error
}

func (s *stubSource) FetchNew(_ context.Context, _ string, limit int) ([]mail.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && limit < len(s.messages) {
		return s.messages[:limit], nil
	}
	return s.messages, nil
}

type stubVerdictClassifier struct {
	mu      sync.Mutex
	verdict classifier.Verdict
	err     error
	calls   int
}

func (s *stubVerdictClassifier) Classify(_ context.Context, _ classifier.Input) (*classifier.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	clone := s.verdict
	return &clone, nil
}
