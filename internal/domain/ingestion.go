package domain

import "time"

// IngestionState tracks reservation progress for a source message.
type IngestionState string

const (
	IngestionStateReserved IngestionState = "reserved"
	IngestionStateBound    IngestionState = "bound"
)

// IngestionRecord maps a source message identifier to its ticket.
// Rows are append-only; a bound mapping never changes.
type IngestionRecord struct {
	SourceID   string
	State      IngestionState
	TicketID   *string
	ReservedAt time.Time
	BoundAt    *time.Time
}
