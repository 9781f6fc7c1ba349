package worker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/supportops/mailtriage/internal/config"
)

// Job describes one recurring background task. Schedule accepts the
// standard five-field cron syntax and @every descriptors.
type Job struct {
	Name           string
	Slug           string
	Handler        string
	Schedule       string
	TimeoutSeconds int
	Config         map[string]any
}

func defaultJobs(cfg config.IngestConfig) []*Job {
	pollEvery := cfg.IntervalSeconds
	if pollEvery <= 0 {
		pollEvery = 60
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 10
	}
	backoff := cfg.TriageBackoffSeconds
	if backoff <= 0 {
		backoff = 120
	}
	maxTriage := cfg.MaxTriageAttempts
	if maxTriage <= 0 {
		maxTriage = 5
	}
	maxSend := cfg.MaxSendAttempts
	if maxSend <= 0 {
		maxSend = 3
	}
	staleMinutes := cfg.StalenessMinutes
	if staleMinutes <= 0 {
		staleMinutes = 15
	}
	quietHours := cfg.QuietPeriodHours
	if quietHours <= 0 {
		quietHours = 72
	}

	return []*Job{
		{
			Name:           "Mailbox Poller",
			Slug:           "mailbox-poll",
			Handler:        "ingest.poll",
			Schedule:       fmt.Sprintf("@every %ds", pollEvery),
			TimeoutSeconds: 300,
			Config: map[string]any{
				"limit": batchLimit,
			},
		},
		{
			Name:           "Untriaged Ticket Retry",
			Slug:           "triage-retry",
			Handler:        "triage.retry",
			Schedule:       fmt.Sprintf("@every %ds", backoff),
			TimeoutSeconds: 300,
			Config: map[string]any{
				"limit":           20,
				"max_attempts":    maxTriage,
				"backoff_seconds": backoff,
			},
		},
		{
			Name:           "Auto-send Retry",
			Slug:           "send-retry",
			Handler:        "send.retry",
			Schedule:       "*/5 * * * *",
			TimeoutSeconds: 120,
			Config: map[string]any{
				"limit":        20,
				"max_attempts": maxSend,
			},
		},
		{
			Name:           "Stale Reservation Sweep",
			Slug:           "reservation-sweep",
			Handler:        "ingest.sweep",
			Schedule:       "*/15 * * * *",
			TimeoutSeconds: 60,
			Config: map[string]any{
				"staleness_minutes": staleMinutes,
			},
		},
		{
			Name:           "Quiet Ticket Auto-resolve",
			Slug:           "ticket-auto-resolve",
			Handler:        "ticket.autoResolve",
			Schedule:       "30 * * * *",
			TimeoutSeconds: 300,
			Config: map[string]any{
				"limit":       50,
				"quiet_hours": quietHours,
			},
		},
	}
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	val, ok := cfg[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}
