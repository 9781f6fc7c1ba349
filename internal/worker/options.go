package worker

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/observability"
)

type options struct {
	Logger       *zap.Logger
	Cron         *cron.Cron
	Location     *time.Location
	Locker       JobLocker
	Metrics      *observability.Metrics
	Jobs         []*Job
	Ingest       ingestPipeline
	Tickets      ticketMutator
	TicketRepo   ticketLister
	TriageRuns   triageRunCounter
	Reservations reservationCounter
	Mailbox      string
	Now          func() time.Time
}

// Option applies configuration to the scheduler.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   zap.NewNop(),
		Location: time.UTC,
		Mailbox:  "INBOX",
		Now:      time.Now,
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithCron supplies a preconfigured cron engine.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithLocation sets the scheduler timezone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.Location = loc
		}
	}
}

// WithLocker injects the distributed lock guarding job runs.
func WithLocker(l JobLocker) Option {
	return func(o *options) {
		o.Locker = l
	}
}

// WithMetrics injects the metrics sink for job outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.Metrics = m
	}
}

// WithJobs registers explicit job definitions instead of the defaults.
func WithJobs(jobs []*Job) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithIngestPipeline injects the ingest service driven by the poll and
// triage retry jobs.
func WithIngestPipeline(p ingestPipeline) Option {
	return func(o *options) {
		o.Ingest = p
	}
}

// WithTicketMutator injects the ticket service used for sends and
// status changes.
func WithTicketMutator(m ticketMutator) Option {
	return func(o *options) {
		o.Tickets = m
	}
}

// WithTicketLister injects the repository used to find job candidates.
func WithTicketLister(l ticketLister) Option {
	return func(o *options) {
		o.TicketRepo = l
	}
}

// WithTriageRunCounter injects the triage attempt counter.
func WithTriageRunCounter(c triageRunCounter) Option {
	return func(o *options) {
		o.TriageRuns = c
	}
}

// WithReservationCounter injects the ingestion reservation inspector.
func WithReservationCounter(c reservationCounter) Option {
	return func(o *options) {
		o.Reservations = c
	}
}

// WithMailbox sets the mailbox polled for new messages.
func WithMailbox(mailbox string) Option {
	return func(o *options) {
		if mailbox != "" {
			o.Mailbox = mailbox
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.Now = now
		}
	}
}
