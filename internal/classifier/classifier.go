// Package classifier produces triage verdicts for inbound tickets. Two
// implementations exist: a remote HTTP model and a deterministic
// marker-based fallback. Both return verdicts already normalized onto
// the closed priority set, with confidence clamped and the draft
// trimmed to the configured length.
package classifier

import (
	"context"
	"strings"

	"github.com/supportops/mailtriage/internal/domain"
)

// Input is the ticket text handed to a classifier.
type Input struct {
	Subject     string
	Question    string
	ClientEmail string
}

// CitationRef points at a knowledge-base entry the draft leaned on.
type CitationRef struct {
	KBEntryID string
	Title     string
	Snippet   string
}

// Verdict is a normalized classification result.
type Verdict struct {
	Category   string
	Priority   domain.TicketPriority
	Tone       string
	Confidence float64
	DraftReply string
	Reasoning  string
	Model      string
	// FallbackUsed marks verdicts produced without the remote model.
	FallbackUsed bool
	Citations    []CitationRef
}

// Classifier turns ticket text into a verdict. Implementations must
// honor ctx cancellation and deadlines.
type Classifier interface {
	Classify(ctx context.Context, input Input) (*Verdict, error)
}

// NormalizePriority folds a free-form priority label onto the closed
// set. Both English and Russian labels are recognized; anything else
// maps to medium.
func NormalizePriority(raw string) domain.TicketPriority {
	folded := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(folded, "выс") || strings.Contains(folded, "high") ||
		strings.Contains(folded, "urgent") || strings.Contains(folded, "срочн") ||
		strings.Contains(folded, "crit"):
		return domain.TicketPriorityHigh
	case strings.Contains(folded, "низ") || strings.Contains(folded, "low"):
		return domain.TicketPriorityLow
	default:
		return domain.TicketPriorityMedium
	}
}

// ClampConfidence forces confidence into [0,1].
func ClampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// TruncateDraft caps the draft at maxChars runes, trimming trailing
// whitespace and appending an ellipsis when it had to cut.
func TruncateDraft(draft string, maxChars int) string {
	if maxChars <= 0 {
		return draft
	}
	runes := []rune(draft)
	if len(runes) <= maxChars {
		return draft
	}
	return strings.TrimRight(string(runes[:maxChars]), " \t\r\n") + "..."
}
