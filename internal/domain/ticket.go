package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusAIDrafted  TicketStatus = "ai_drafted"
	TicketStatusAutoSent   TicketStatus = "auto_sent"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
)

// TicketPriority enumerates triage urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Tone enumerates the normalized emotional tone of a message.
type Tone string

const (
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
	TonePositive Tone = "positive"
)

// Ticket is the aggregate for one customer inquiry and its resolution.
type Ticket struct {
	ID        string
	Reference string
	Version   int64

	// Source fields, immutable after creation.
	ClientEmail     string
	ClientName      string
	Subject         string
	Question        string
	SourceMessageID string
	InReplyTo       string
	ReceivedAt      time.Time

	// Triage fields, overwritten only by a fresh triage run or operator edit.
	Tone            Tone
	Category        string
	Priority        TicketPriority
	Confidence      float64
	DraftReply      string
	Reasoning       string
	ClassifierModel string
	TriageLatencyMS int64
	PipelineVersion string

	// Gate fields.
	NeedsAttention  bool
	AutoSendAllowed bool
	AutoSendReason  string

	Status       TicketStatus
	SendAttempts int

	// Operator fields.
	FinalAnswer *string
	AssigneeID  *string

	ProcessedAt *time.Time
	SentAt      *time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolved reports whether the ticket reached its terminal state.
func (t *Ticket) Resolved() bool {
	return t.Status == TicketStatusResolved
}

// Triagable reports whether a classifier run may still touch the ticket.
func (t *Ticket) Triagable() bool {
	return t.Status == TicketStatusNew || t.Status == TicketStatusAIDrafted
}
