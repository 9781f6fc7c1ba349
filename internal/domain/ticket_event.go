package domain

import "time"

// Audit event types recorded in the ticket trail.
const (
	AuditIngested      = "ingested"
	AuditTriaged       = "triaged"
	AuditStatusChanged = "status_changed"
	AuditReplySent     = "reply_sent"
	AuditSendFailed    = "send_failed"
	AuditPromoted      = "promoted_to_kb"
)

// TicketEvent is one append-only audit-trail row for a ticket.
type TicketEvent struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	EventType  string    `json:"event_type"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   *string   `json:"to_status,omitempty"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
