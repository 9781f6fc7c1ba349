package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/supportops/mailtriage/internal/domain"
)

// KBSearcher is the slice of the knowledge base the heuristic needs.
type KBSearcher interface {
	Search(ctx context.Context, term, category string, limit int) ([]domain.KBEntry, error)
}

// Marker words, matched as lowercase substrings over subject plus body.
var (
	incidentMarkers = []string{"не работает", "ошибка", "авар", "срочно", "слом"}
	howToMarkers    = []string{"как", "инструкция", "подключ", "настрой"}
)

const (
	categoryIncident = "Инцидент / Неисправность"
	categoryHowTo    = "Консультация / Настройка"
	categoryGeneral  = "Общий запрос"
)

const fallbackDraft = "Здравствуйте! Получили ваше обращение. " +
	"Пожалуйста, уточните модель устройства и серийный номер. " +
	"Если проблема срочная, оператор подключится в ближайшее время."

// HeuristicClassifier is the deterministic fallback: marker-based
// categorization plus a templated draft built from the best
// knowledge-base hit. It never errors on classification itself.
type HeuristicClassifier struct {
	searcher      KBSearcher
	topK          int
	maxDraftChars int
	model         string
}

// NewHeuristicClassifier builds the fallback classifier. searcher may be
// nil, in which case drafts carry no knowledge-base context.
func NewHeuristicClassifier(searcher KBSearcher, topK, maxDraftChars int) *HeuristicClassifier {
	if topK <= 0 {
		topK = 3
	}
	return &HeuristicClassifier{
		searcher:      searcher,
		topK:          topK,
		maxDraftChars: maxDraftChars,
		model:         "heuristic-analyzer",
	}
}

func (h *HeuristicClassifier) Classify(ctx context.Context, input Input) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(input.Subject + "\n" + input.Question)
	verdict := h.analyze(text)
	verdict.Model = h.model
	verdict.FallbackUsed = true

	hits := h.retrieve(ctx, input.Question)
	verdict.Citations = citationsFrom(hits)
	verdict.DraftReply = TruncateDraft(h.composeDraft(verdict.Category, hits), h.maxDraftChars)
	return verdict, nil
}

func (h *HeuristicClassifier) analyze(text string) *Verdict {
	if containsAny(text, incidentMarkers) {
		return &Verdict{
			Category:   categoryIncident,
			Priority:   domain.TicketPriorityHigh,
			Tone:       "Негативный",
			Confidence: 0.86,
			Reasoning:  "Обнаружены маркеры инцидента и срочности.",
		}
	}
	if containsAny(text, howToMarkers) {
		return &Verdict{
			Category:   categoryHowTo,
			Priority:   domain.TicketPriorityMedium,
			Tone:       "Нейтральный",
			Confidence: 0.8,
			Reasoning:  "Письмо похоже на запрос инструкции или помощи с настройкой.",
		}
	}
	return &Verdict{
		Category:   categoryGeneral,
		Priority:   domain.TicketPriorityLow,
		Tone:       "Нейтральный",
		Confidence: 0.68,
		Reasoning:  "Явных признаков критичного инцидента не найдено.",
	}
}

func (h *HeuristicClassifier) retrieve(ctx context.Context, question string) []domain.KBEntry {
	if h.searcher == nil || strings.TrimSpace(question) == "" {
		return nil
	}
	hits, err := h.searcher.Search(ctx, question, "", h.topK)
	if err != nil {
		// Retrieval is best effort: a broken knowledge base must not block
		// classification.
		return nil
	}
	return hits
}

func (h *HeuristicClassifier) composeDraft(category string, hits []domain.KBEntry) string {
	if len(hits) == 0 {
		return fallbackDraft
	}
	best := hits[0]
	recommendation := best.Resolution
	if recommendation == "" {
		recommendation = best.Title
	}
	return fmt.Sprintf("Здравствуйте! Спасибо за обращение.\n\n"+
		"По вашей категории «%s» рекомендуем: %s\n\n"+
		"Если после этих шагов проблема сохраняется, ответьте на письмо — передадим оператору.",
		category, recommendation)
}

func citationsFrom(hits []domain.KBEntry) []CitationRef {
	if len(hits) == 0 {
		return nil
	}
	refs := make([]CitationRef, 0, len(hits))
	for _, hit := range hits {
		refs = append(refs, CitationRef{
			KBEntryID: hit.ID,
			Title:     hit.Title,
			Snippet:   snippet(hit.Resolution, 200),
		})
	}
	return refs
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func snippet(text string, maxChars int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxChars {
		return string(runes)
	}
	return string(runes[:maxChars])
}
