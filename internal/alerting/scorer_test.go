package alerting

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

func scoredEvent(pct, abs string) trend.TrendEvent {
	return trend.TrendEvent{
		PercentChange:  decimal.RequireFromString(pct),
		AbsoluteChange: decimal.RequireFromString(abs),
	}
}

func TestScoreBounds(t *testing.T) {
	if got := Score(scoredEvent("0", "0")); got != 0 {
		t.Fatalf("flat movement score = %d, want 0", got)
	}
	if got := Score(scoredEvent("500", "250")); got != 100 {
		t.Fatalf("extreme movement score = %d, want 100", got)
	}
	if got := Score(scoredEvent("-500", "-250")); got != 100 {
		t.Fatalf("extreme drop score = %d, want 100", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	event := scoredEvent("25", "2.50")
	first := Score(event)
	for i := 0; i < 5; i++ {
		if again := Score(event); again != first {
			t.Fatalf("score changed between calls: %d then %d", first, again)
		}
	}
}

func TestScoreMonotoneInPercent(t *testing.T) {
	prev := -1
	for _, pct := range []string{"0", "5", "10", "25", "50", "75", "100", "150", "300"} {
		score := Score(scoredEvent(pct, "1.00"))
		if score < prev {
			t.Fatalf("score decreased at pct=%s: %d < %d", pct, score, prev)
		}
		prev = score
	}
}

func TestScoreMonotoneInAbsolute(t *testing.T) {
	prev := -1
	for _, abs := range []string{"0", "0.50", "1", "2.50", "5", "10", "25", "50"} {
		score := Score(scoredEvent("10", abs))
		if score < prev {
			t.Fatalf("score decreased at abs=%s: %d < %d", abs, score, prev)
		}
		prev = score
	}
}

func TestScoreSignInsensitive(t *testing.T) {
	up := Score(scoredEvent("25", "2.50"))
	down := Score(scoredEvent("-25", "-2.50"))
	if up != down {
		t.Fatalf("direction must not change the score: up=%d down=%d", up, down)
	}
}

func TestPriorityLadder(t *testing.T) {
	cases := []struct {
		pct   string
		score int
		want  Priority
	}{
		{"150", 50, PriorityCritical},
		{"10", 95, PriorityCritical},
		{"60", 50, PriorityHigh},
		{"10", 80, PriorityHigh},
		{"30", 40, PriorityMedium},
		{"10", 65, PriorityMedium},
		{"10", 30, PriorityLow},
	}

	for _, tc := range cases {
		event := scoredEvent(tc.pct, "1.00")
		if got := PriorityFor(event, tc.score); got != tc.want {
			t.Errorf("pct=%s score=%d: priority = %s, want %s", tc.pct, tc.score, got, tc.want)
		}
	}
}
