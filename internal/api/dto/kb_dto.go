package dto

import (
	"time"
)

// KBEntryResponse is one knowledge-base entry.
type KBEntryResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	QuestionSummary string    `json:"question_summary"`
	Resolution      string    `json:"resolution"`
	Category        string    `json:"category,omitempty"`
	Tags            []string  `json:"tags"`
	SourceTicketID  *string   `json:"source_ticket_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
