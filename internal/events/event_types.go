package events

import (
	"time"

	"github.com/supportops/mailtriage/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketIngested       EventType = "ticket_ingested"
	EventTicketTriaged        EventType = "ticket_triaged"
	EventTicketAutoSent       EventType = "ticket_auto_sent"
	EventTicketNeedsAttention EventType = "ticket_needs_attention"
	EventTicketStatusChanged  EventType = "ticket_status_changed"
	EventTicketResolved       EventType = "ticket_resolved"
	EventSendFailed           EventType = "ticket_send_failed"
	EventKBEntryPromoted      EventType = "kb_entry_promoted"
)

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorSystem    ActorType = "system"
	ActorScheduler ActorType = "scheduler"
	ActorOperator  ActorType = "operator"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type       ActorType `json:"type"`
	OperatorID *string   `json:"operator_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketIngestedPayload payload.
type TicketIngestedPayload struct {
	Reference   string `json:"reference"`
	SourceID    string `json:"source_id"`
	ClientEmail string `json:"client_email"`
	Subject     string `json:"subject"`
}

// TicketTriagedPayload payload.
type TicketTriagedPayload struct {
	Reference       string                `json:"reference"`
	Category        string                `json:"category"`
	Priority        domain.TicketPriority `json:"priority"`
	Tone            domain.Tone           `json:"tone"`
	Confidence      float64               `json:"confidence"`
	AutoSendAllowed bool                  `json:"auto_send_allowed"`
	AutoSendReason  string                `json:"auto_send_reason,omitempty"`
	NeedsAttention  bool                  `json:"needs_attention"`
	FallbackUsed    bool                  `json:"fallback_used"`
}

// TicketAutoSentPayload payload.
type TicketAutoSentPayload struct {
	Reference string `json:"reference"`
	To        string `json:"to"`
	MessageID string `json:"message_id"`
}

// TicketNeedsAttentionPayload payload.
type TicketNeedsAttentionPayload struct {
	Reference string      `json:"reference"`
	Reason    string      `json:"reason,omitempty"`
	Tone      domain.Tone `json:"tone"`
	Subject   string      `json:"subject"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	Reference  string  `json:"reference"`
	OperatorID *string `json:"operator_id,omitempty"`
}

// SendFailedPayload payload.
type SendFailedPayload struct {
	Reference string `json:"reference"`
	To        string `json:"to"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

// KBEntryPromotedPayload payload.
type KBEntryPromotedPayload struct {
	KBEntryID string `json:"kb_entry_id"`
	Title     string `json:"title"`
}
