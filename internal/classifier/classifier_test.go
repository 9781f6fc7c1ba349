package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supportops/mailtriage/internal/domain"
)

func TestNormalizePriority(t *testing.T) {
	cases := []struct {
		in   string
		want domain.TicketPriority
	}{
		{in: "Высокий", want: domain.TicketPriorityHigh},
		{in: "high", want: domain.TicketPriorityHigh},
		{in: "URGENT", want: domain.TicketPriorityHigh},
		{in: "critical", want: domain.TicketPriorityHigh},
		{in: "Низкий", want: domain.TicketPriorityLow},
		{in: "low", want: domain.TicketPriorityLow},
		{in: "Средний", want: domain.TicketPriorityMedium},
		{in: "medium", want: domain.TicketPriorityMedium},
		{in: "", want: domain.TicketPriorityMedium},
		{in: "unknown label", want: domain.TicketPriorityMedium},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizePriority(tc.in), "input %q", tc.in)
	}
}

func TestClampConfidence(t *testing.T) {
	require.Equal(t, 0.0, ClampConfidence(-0.3))
	require.Equal(t, 1.0, ClampConfidence(1.7))
	require.Equal(t, 0.86, ClampConfidence(0.86))
}

func TestTruncateDraft(t *testing.T) {
	require.Equal(t, "short", TruncateDraft("short", 100))

	long := strings.Repeat("д", 150)
	got := TruncateDraft(long, 100)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, 103, len([]rune(got)))

	// Trailing whitespace at the cut point is removed before the ellipsis.
	padded := strings.Repeat("a", 99) + "   tail"
	got = TruncateDraft(padded, 100)
	require.Equal(t, strings.Repeat("a", 99)+"...", got)

	// Zero cap disables truncation.
	require.Equal(t, long, TruncateDraft(long, 0))
}
