// Package triage holds the pure auto-send policy: given a classifier
// verdict it decides whether the drafted reply may go out without an
// operator, and whether the ticket needs operator attention. The engine
// performs no I/O and keeps no state, so the same verdict always yields
// the same decision.
package triage

import (
	"strings"

	"github.com/supportops/mailtriage/internal/domain"
)

// Gate refusal reasons, checked in order. The first matching rule wins.
const (
	ReasonLowConfidence = "low confidence"
	ReasonHighRisk      = "high-risk category requires review"
	ReasonEscalation    = "escalation risk"
	ReasonSensitive     = "sensitive content"
)

// Verdict is the classifier output the engine evaluates.
type Verdict struct {
	Category   string
	Priority   domain.TicketPriority
	Tone       string
	Confidence float64
	Draft      string
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Tone            domain.Tone
	AutoSendAllowed bool
	Reason          string
	NeedsAttention  bool
}

// Engine evaluates verdicts against a fixed policy configuration.
type Engine struct {
	threshold    float64
	highRisk     []string
	denyPatterns []string
}

// NewEngine builds an engine. Category and pattern lists are matched
// case-insensitively.
func NewEngine(threshold float64, highRisk, denyPatterns []string) *Engine {
	return &Engine{
		threshold:    threshold,
		highRisk:     foldAll(highRisk),
		denyPatterns: foldAll(denyPatterns),
	}
}

// NormalizeTone maps a free-form tone label onto the closed tone set.
// Matching is case-insensitive substring, so both English and Russian
// labels ("Negative", "негативный") land on the same value. Unrecognized
// input maps to neutral; values already in the closed set map to
// themselves.
func NormalizeTone(raw string) domain.Tone {
	folded := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(folded, "negativ") || strings.Contains(folded, "негатив"):
		return domain.ToneNegative
	case strings.Contains(folded, "positiv") || strings.Contains(folded, "позитив"):
		return domain.TonePositive
	default:
		return domain.ToneNeutral
	}
}

// Evaluate runs the ordered gate rules against the verdict. Exactly one
// refusal reason is produced, or none when the reply may be auto-sent.
func (e *Engine) Evaluate(v Verdict) Decision {
	tone := NormalizeTone(v.Tone)

	allowed := true
	reason := ""
	switch {
	case v.Confidence < e.threshold:
		allowed, reason = false, ReasonLowConfidence
	case e.isHighRisk(v.Category):
		allowed, reason = false, ReasonHighRisk
	case tone == domain.ToneNegative && v.Priority == domain.TicketPriorityHigh:
		allowed, reason = false, ReasonEscalation
	case e.matchesDenyPattern(v.Draft):
		allowed, reason = false, ReasonSensitive
	}

	return Decision{
		Tone:            tone,
		AutoSendAllowed: allowed,
		Reason:          reason,
		NeedsAttention:  !allowed || tone == domain.ToneNegative,
	}
}

func (e *Engine) isHighRisk(category string) bool {
	folded := strings.ToLower(strings.TrimSpace(category))
	if folded == "" {
		return false
	}
	for _, risk := range e.highRisk {
		if folded == risk || strings.Contains(folded, risk) {
			return true
		}
	}
	return false
}

func (e *Engine) matchesDenyPattern(draft string) bool {
	folded := strings.ToLower(draft)
	for _, pattern := range e.denyPatterns {
		if pattern != "" && strings.Contains(folded, pattern) {
			return true
		}
	}
	return false
}

func foldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
