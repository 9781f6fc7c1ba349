package dto

import (
	"time"

	"github.com/supportops/mailtriage/internal/domain"
)

// TicketSummary is the list view of a ticket.
type TicketSummary struct {
	ID              string                `json:"id"`
	Reference       string                `json:"reference"`
	Version         int64                 `json:"version"`
	ClientEmail     string                `json:"client_email"`
	Subject         string                `json:"subject"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	Category        string                `json:"category,omitempty"`
	Tone            domain.Tone           `json:"tone"`
	Confidence      float64               `json:"confidence"`
	NeedsAttention  bool                  `json:"needs_attention"`
	AutoSendAllowed bool                  `json:"auto_send_allowed"`
	AssigneeID      *string               `json:"assignee_id,omitempty"`
	ReceivedAt      time.Time             `json:"received_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info including the triage
// verdict and cited knowledge-base entries.
type TicketDetailResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Version   int64  `json:"version"`

	ClientEmail     string    `json:"client_email"`
	ClientName      string    `json:"client_name,omitempty"`
	Subject         string    `json:"subject"`
	Question        string    `json:"question"`
	SourceMessageID string    `json:"source_message_id"`
	InReplyTo       string    `json:"in_reply_to,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`

	Tone            domain.Tone           `json:"tone"`
	Category        string                `json:"category,omitempty"`
	Priority        domain.TicketPriority `json:"priority"`
	Confidence      float64               `json:"confidence"`
	DraftReply      string                `json:"draft_reply,omitempty"`
	Reasoning       string                `json:"reasoning,omitempty"`
	ClassifierModel string                `json:"classifier_model,omitempty"`
	TriageLatencyMS int64                 `json:"triage_latency_ms"`
	PipelineVersion string                `json:"pipeline_version,omitempty"`

	NeedsAttention  bool   `json:"needs_attention"`
	AutoSendAllowed bool   `json:"auto_send_allowed"`
	AutoSendReason  string `json:"auto_send_reason,omitempty"`

	Status       domain.TicketStatus `json:"status"`
	SendAttempts int                 `json:"send_attempts"`

	FinalAnswer *string `json:"final_answer,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Citations []CitationResponse `json:"citations"`
}

// CitationResponse is one knowledge-base reference cited by the classifier.
type CitationResponse struct {
	Rank      int    `json:"rank"`
	KBEntryID string `json:"kb_entry_id"`
	Snippet   string `json:"snippet,omitempty"`
}

// UpdateTicketRequest is the operator patch payload. Absent fields stay
// untouched; expected_version carries the optimistic lock.
type UpdateTicketRequest struct {
	ExpectedVersion int64                  `json:"expected_version"`
	Status          *domain.TicketStatus   `json:"status"`
	Priority        *domain.TicketPriority `json:"priority"`
	Category        *string                `json:"category"`
	AssigneeID      *string                `json:"assignee_id"`
	FinalAnswer     *string                `json:"final_answer"`
}

// SendReplyRequest triggers delivery. An empty body falls back to the
// ticket's final answer, then to the AI draft.
type SendReplyRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	Body            string `json:"body"`
}

// IngestRunRequest triggers one on-demand ingestion batch.
type IngestRunRequest struct {
	Mailbox string `json:"mailbox"`
	Limit   int    `json:"limit"`
}

// TicketEventResponse is one audit-trail row.
type TicketEventResponse struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   *string   `json:"to_status,omitempty"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MailLogResponse is one transport log row.
type MailLogResponse struct {
	ID        string               `json:"id"`
	Direction domain.MailDirection `json:"direction"`
	Address   string               `json:"address"`
	Subject   string               `json:"subject"`
	Body      string               `json:"body"`
	MessageID string               `json:"message_id,omitempty"`
	InReplyTo string               `json:"in_reply_to,omitempty"`
	Status    domain.SendStatus    `json:"status"`
	ErrorText string               `json:"error_text,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}
