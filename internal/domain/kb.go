package domain

import "time"

// KBEntry is a resolved case available for citation. Entries are immutable
// once created; corrections create new entries so prior citations keep
// pointing at the text the classifier actually saw.
type KBEntry struct {
	ID              string
	Title           string
	QuestionSummary string
	Resolution      string
	Category        string
	Tags            []string
	SourceTicketID  *string
	CreatedAt       time.Time
}

// Citation links a ticket to a knowledge-base entry the classifier cited.
type Citation struct {
	TicketID  string
	Rank      int
	KBEntryID string
	Snippet   string
}
