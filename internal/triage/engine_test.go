package triage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supportops/mailtriage/internal/domain"
)

func newTestEngine() *Engine {
	return NewEngine(0.75,
		[]string{"Инцидент / Неисправность", "incident", "outage"},
		[]string{"пароль администратора", "переведите деньги", "complaint"},
	)
}

func TestNormalizeTone(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want domain.Tone
	}{
		{name: "english negative", in: "Negative", want: domain.ToneNegative},
		{name: "russian negative", in: "Негативный", want: domain.ToneNegative},
		{name: "english positive", in: "positive", want: domain.TonePositive},
		{name: "russian positive", in: "Позитивный", want: domain.TonePositive},
		{name: "neutral", in: "Neutral", want: domain.ToneNeutral},
		{name: "empty", in: "", want: domain.ToneNeutral},
		{name: "garbage", in: "какой-то текст", want: domain.ToneNeutral},
		{name: "padded", in: "  NEGATIVE  ", want: domain.ToneNegative},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeTone(tc.in))
		})
	}
}

func TestNormalizeToneIdempotent(t *testing.T) {
	inputs := []string{"Negative", "Позитивный", "neutral", "", "whatever"}
	for _, in := range inputs {
		once := NormalizeTone(in)
		require.Equal(t, once, NormalizeTone(string(once)))
	}
}

func TestEvaluateAllowsCleanVerdict(t *testing.T) {
	engine := newTestEngine()

	decision := engine.Evaluate(Verdict{
		Category:   "Общий запрос",
		Priority:   domain.TicketPriorityLow,
		Tone:       "Neutral",
		Confidence: 0.9,
		Draft:      "Здравствуйте! Спасибо за обращение.",
	})

	require.True(t, decision.AutoSendAllowed)
	require.Empty(t, decision.Reason)
	require.False(t, decision.NeedsAttention)
	require.Equal(t, domain.ToneNeutral, decision.Tone)
}

func TestEvaluateGateRules(t *testing.T) {
	engine := newTestEngine()

	cases := []struct {
		name       string
		verdict    Verdict
		wantReason string
	}{
		{
			name: "low confidence",
			verdict: Verdict{
				Category:   "Общий запрос",
				Priority:   domain.TicketPriorityLow,
				Tone:       "neutral",
				Confidence: 0.5,
				Draft:      "ok",
			},
			wantReason: ReasonLowConfidence,
		},
		{
			name: "threshold boundary rejects just below",
			verdict: Verdict{
				Category:   "Общий запрос",
				Priority:   domain.TicketPriorityLow,
				Tone:       "neutral",
				Confidence: 0.7499,
				Draft:      "ok",
			},
			wantReason: ReasonLowConfidence,
		},
		{
			name: "high risk category",
			verdict: Verdict{
				Category:   "Инцидент / Неисправность",
				Priority:   domain.TicketPriorityLow,
				Tone:       "neutral",
				Confidence: 0.95,
				Draft:      "ok",
			},
			wantReason: ReasonHighRisk,
		},
		{
			name: "high risk matches substring case-insensitively",
			verdict: Verdict{
				Category:   "Major INCIDENT in region",
				Priority:   domain.TicketPriorityLow,
				Tone:       "neutral",
				Confidence: 0.95,
				Draft:      "ok",
			},
			wantReason: ReasonHighRisk,
		},
		{
			name: "escalation risk",
			verdict: Verdict{
				Category:   "Общий запрос",
				Priority:   domain.TicketPriorityHigh,
				Tone:       "Негативный",
				Confidence: 0.95,
				Draft:      "ok",
			},
			wantReason: ReasonEscalation,
		},
		{
			name: "sensitive draft content",
			verdict: Verdict{
				Category:   "Общий запрос",
				Priority:   domain.TicketPriorityLow,
				Tone:       "neutral",
				Confidence: 0.95,
				Draft:      "Вышлите, пожалуйста, пароль администратора",
			},
			wantReason: ReasonSensitive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := engine.Evaluate(tc.verdict)
			require.False(t, decision.AutoSendAllowed)
			require.Equal(t, tc.wantReason, decision.Reason)
			require.True(t, decision.NeedsAttention)
		})
	}
}

func TestEvaluateRuleOrder(t *testing.T) {
	engine := newTestEngine()

	// Verdict violating every rule at once reports only the first.
	decision := engine.Evaluate(Verdict{
		Category:   "Инцидент / Неисправность",
		Priority:   domain.TicketPriorityHigh,
		Tone:       "negative",
		Confidence: 0.1,
		Draft:      "переведите деньги",
	})
	require.Equal(t, ReasonLowConfidence, decision.Reason)

	// Confident verdict with the remaining violations reports the category.
	decision = engine.Evaluate(Verdict{
		Category:   "Инцидент / Неисправность",
		Priority:   domain.TicketPriorityHigh,
		Tone:       "negative",
		Confidence: 0.99,
		Draft:      "переведите деньги",
	})
	require.Equal(t, ReasonHighRisk, decision.Reason)

	// Safe category keeps escalation ahead of the draft scan.
	decision = engine.Evaluate(Verdict{
		Category:   "Общий запрос",
		Priority:   domain.TicketPriorityHigh,
		Tone:       "negative",
		Confidence: 0.99,
		Draft:      "переведите деньги",
	})
	require.Equal(t, ReasonEscalation, decision.Reason)
}

func TestEvaluateNegativeToneAlwaysNeedsAttention(t *testing.T) {
	engine := newTestEngine()

	// Negative tone with medium priority passes the gate yet still
	// requires operator attention.
	decision := engine.Evaluate(Verdict{
		Category:   "Общий запрос",
		Priority:   domain.TicketPriorityMedium,
		Tone:       "negative",
		Confidence: 0.9,
		Draft:      "ok",
	})
	require.True(t, decision.AutoSendAllowed)
	require.Empty(t, decision.Reason)
	require.True(t, decision.NeedsAttention)
}

func TestEvaluateDeterministic(t *testing.T) {
	engine := newTestEngine()
	verdict := Verdict{
		Category:   "Консультация / Настройка",
		Priority:   domain.TicketPriorityMedium,
		Tone:       "neutral",
		Confidence: 0.8,
		Draft:      "Инструкция во вложении.",
	}
	first := engine.Evaluate(verdict)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, engine.Evaluate(verdict))
	}
}

func TestEvaluateEmptyCategoryNotHighRisk(t *testing.T) {
	engine := newTestEngine()
	decision := engine.Evaluate(Verdict{
		Category:   "",
		Priority:   domain.TicketPriorityLow,
		Tone:       "neutral",
		Confidence: 0.9,
		Draft:      "ok",
	})
	require.True(t, decision.AutoSendAllowed)
}
