package domain

import "time"

// TriageRun records one classifier invocation against a ticket, successful
// or not. Failed runs keep the error and power scheduler backoff.
type TriageRun struct {
	ID              string
	TicketID        string
	PipelineVersion string
	ClassifierModel string
	ClassifyMS      int64
	GateMS          int64
	TotalMS         int64
	FallbackUsed    bool
	Success         bool
	ErrorText       string
	CreatedAt       time.Time
}
