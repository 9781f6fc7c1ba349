package domain

import "time"

// MailDirection distinguishes inbound from outbound log rows.
type MailDirection string

const (
	MailDirectionIncoming MailDirection = "incoming"
	MailDirectionOutgoing MailDirection = "outgoing"
)

// SendStatus records the transport outcome for a logged message.
type SendStatus string

const (
	SendStatusReceived SendStatus = "received"
	SendStatusSent     SendStatus = "sent"
	SendStatusFailed   SendStatus = "failed"
)

// MailLogEntry is the per-message transport audit record.
type MailLogEntry struct {
	ID        string
	TicketID  *string
	Direction MailDirection
	Address   string
	Subject   string
	Body      string
	MessageID string
	InReplyTo string
	Status    SendStatus
	ErrorText string
	CreatedAt time.Time
}
