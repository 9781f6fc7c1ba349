package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/config"
	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/observability"
	"github.com/supportops/mailtriage/internal/service"
)

// ingestPipeline is the slice of the ingest service the scheduler drives.
type ingestPipeline interface {
	IngestBatch(ctx context.Context, mailbox string, limit int) (*service.Report, error)
	RetryTriage(ctx context.Context, ticket *domain.Ticket) error
	AutoSendEnabled() bool
}

// ticketMutator covers the ticket service calls issued by scheduled jobs.
type ticketMutator interface {
	AutoSend(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error)
	Update(ctx context.Context, id string, expectedVersion int64, patch service.TicketPatch, actor events.Actor) (*domain.Ticket, error)
}

// ticketLister covers the repository reads used to find job candidates.
type ticketLister interface {
	ListByStatusBefore(ctx context.Context, status domain.TicketStatus, cutoff time.Time, limit int) ([]domain.Ticket, error)
	ListAutoSendRetry(ctx context.Context, maxAttempts, limit int) ([]domain.Ticket, error)
}

type triageRunCounter interface {
	CountForTicket(ctx context.Context, ticketID string) (int64, error)
}

type reservationCounter interface {
	CountStale(ctx context.Context, staleBefore time.Time) (int64, error)
}

// JobHandler executes one run of a scheduled job.
type JobHandler func(ctx context.Context, job *Job) error

// Scheduler runs the recurring background jobs of the triage pipeline on
// a cron engine. Jobs are keyed by slug and guarded by a distributed
// lock, so several instances can run the same schedule without doubling
// the work.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *observability.Metrics
	locker  JobLocker

	ingest       ingestPipeline
	tickets      ticketMutator
	ticketRepo   ticketLister
	triageRuns   triageRunCounter
	reservations reservationCounter

	mailbox string
	lockTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	handlers map[string]JobHandler
	jobs     []*Job
	entries  map[string]cron.EntryID
	started  bool
}

// NewScheduler builds a scheduler from the ingest configuration and the
// supplied options. Collaborators left unset disable the jobs that need
// them; the corresponding handlers log and return.
func NewScheduler(cfg config.IngestConfig, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cronEngine := o.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithLocation(o.Location))
	}
	jobs := o.Jobs
	if len(jobs) == 0 {
		jobs = defaultJobs(cfg)
	}
	lockTTL := time.Duration(cfg.LockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}

	s := &Scheduler{
		cron:         cronEngine,
		logger:       o.Logger,
		metrics:      o.Metrics,
		locker:       o.Locker,
		ingest:       o.Ingest,
		tickets:      o.Tickets,
		ticketRepo:   o.TicketRepo,
		triageRuns:   o.TriageRuns,
		reservations: o.Reservations,
		mailbox:      o.Mailbox,
		lockTTL:      lockTTL,
		now:          o.Now,
		handlers:     make(map[string]JobHandler),
		jobs:         jobs,
		entries:      make(map[string]cron.EntryID),
	}
	s.registerBuiltinHandlers()
	return s
}

// RegisterHandler makes a handler available under the given name. Jobs
// reference handlers by name, so extra jobs can be added after the
// builtin set.
func (s *Scheduler) RegisterHandler(name string, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// AddJob schedules an additional job beyond the configured set.
func (s *Scheduler) AddJob(job *Job) error {
	if job == nil || job.Slug == "" {
		return fmt.Errorf("job requires a slug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scheduleLocked(job); err != nil {
		return err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start registers the configured jobs with the cron engine and begins
// running them. Starting twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	for _, job := range s.jobs {
		if _, ok := s.entries[job.Slug]; ok {
			continue
		}
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the cron engine. The returned context is done once every
// in-flight job has finished, so callers can block on a clean shutdown.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return s.cron.Stop()
}

// Jobs returns the registered job definitions.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Scheduler) scheduleLocked(job *Job) error {
	if _, ok := s.handlers[job.Handler]; !ok {
		return fmt.Errorf("job %q references unknown handler %q", job.Slug, job.Handler)
	}
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.runJob(job) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", job.Slug, err)
	}
	s.entries[job.Slug] = entryID
	return nil
}

// runJob wraps one job execution with the lock, the timeout, and the
// outcome accounting shared by every job.
func (s *Scheduler) runJob(job *Job) {
	ctx := context.Background()
	if job.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, job.Slug, s.lockTTL)
		if err != nil {
			s.logger.Warn("job lock unavailable",
				zap.String("job", job.Slug), zap.Error(err))
			s.metrics.RecordJob(job.Slug, observability.OutcomeSkipped)
			return
		}
		if !acquired {
			s.logger.Debug("job held by another instance", zap.String("job", job.Slug))
			s.metrics.RecordJob(job.Slug, observability.OutcomeSkipped)
			return
		}
		defer s.locker.Release(context.Background(), job.Slug)
	}

	s.mu.Lock()
	handler := s.handlers[job.Handler]
	s.mu.Unlock()
	if handler == nil {
		s.logger.Error("job has no handler", zap.String("job", job.Slug))
		s.metrics.RecordJob(job.Slug, observability.OutcomeFailed)
		return
	}

	start := time.Now()
	if err := handler(ctx, job); err != nil {
		s.logger.Error("scheduled job failed",
			zap.String("job", job.Slug),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		s.metrics.RecordJob(job.Slug, observability.OutcomeFailed)
		return
	}
	s.metrics.RecordJob(job.Slug, observability.OutcomeSuccess)
}
