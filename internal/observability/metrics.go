package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "mailtriage"

	// Outcome labels shared by pipeline counters.
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeSuccess   = "success"
	OutcomeSent      = "sent"
)

// Metrics bundles the Prometheus collectors for the service. Each instance
// carries its own registry so tests can construct metrics freely.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpErrors        *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ticketsIngested   *prometheus.CounterVec
	triageRuns        *prometheus.CounterVec
	gateDecisions     *prometheus.CounterVec
	classifierLatency prometheus.Histogram
	sendAttempts      *prometheus.CounterVec
	schedulerJobs     *prometheus.CounterVec
}

// NewMetrics initializes the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Domain errors returned to HTTP callers, by code",
		}, []string{"path", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		ticketsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound messages processed, by outcome",
		}, []string{"outcome"}),
		triageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "triage",
			Name:      "runs_total",
			Help:      "Classifier runs, by outcome and fallback use",
		}, []string{"outcome", "fallback"}),
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "triage",
			Name:      "gate_decisions_total",
			Help:      "Auto-send gate outcomes, by allowance and reason",
		}, []string{"allowed", "reason"}),
		classifierLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "triage",
			Name:      "classifier_latency_seconds",
			Help:      "Latency of classifier adapter calls",
			Buckets:   prometheus.DefBuckets,
		}),
		sendAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "mail",
			Name:      "send_attempts_total",
			Help:      "Outbound send attempts, by mode and outcome",
		}, []string{"mode", "outcome"}),
		schedulerJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job executions, by job and outcome",
		}, []string{"job", "outcome"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(path, method, code).Inc()
}

// RecordIngest counts one processed inbound message.
func (m *Metrics) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.ticketsIngested.WithLabelValues(outcome).Inc()
}

// RecordTriageRun counts one classifier invocation.
func (m *Metrics) RecordTriageRun(outcome string, fallback bool) {
	if m == nil {
		return
	}
	m.triageRuns.WithLabelValues(outcome, strconv.FormatBool(fallback)).Inc()
}

// RecordGate counts one auto-send gate decision.
func (m *Metrics) RecordGate(allowed bool, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.gateDecisions.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
}

// ObserveClassifierLatency records one classifier call duration.
func (m *Metrics) ObserveClassifierLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.classifierLatency.Observe(d.Seconds())
}

// RecordSend counts one outbound send attempt.
func (m *Metrics) RecordSend(mode, outcome string) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(mode, outcome).Inc()
}

// RecordJob counts one scheduler job execution.
func (m *Metrics) RecordJob(job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerJobs.WithLabelValues(job, outcome).Inc()
}
