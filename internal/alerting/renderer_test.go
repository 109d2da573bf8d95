package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

func renderedEvent() trend.TrendEvent {
	detected := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return trend.TrendEvent{
		Card:           card.Identity{Name: "Lightning Bolt", SetCode: "LEA"},
		PriceStart:     decimal.RequireFromString("10.00"),
		PriceCurrent:   decimal.RequireFromString("12.50"),
		PercentChange:  decimal.RequireFromString("25"),
		AbsoluteChange: decimal.RequireFromString("2.50"),
		FirstSeen:      detected.Add(-24 * time.Hour),
		LastSeen:       detected,
		DetectedAt:     detected,
		Samples:        5,
	}
}

func TestRenderMessageSubject(t *testing.T) {
	msg := RenderMessage(renderedEvent(), 40)
	if msg.Subject != "Price Alert: Lightning Bolt (+25.0%)" {
		t.Fatalf("subject = %q", msg.Subject)
	}
}

func TestRenderMessageBody(t *testing.T) {
	msg := RenderMessage(renderedEvent(), 40)

	for _, want := range []string{
		"Lightning Bolt (LEA)",
		"Start: $10.00",
		"Current: $12.50",
		"Change: +25.0% (+$2.50)",
		"Score: 40/100 (medium)",
		"Window: 24h over 5 snapshots",
		"Detected: 2025-03-01T12:00:00Z",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRenderMessageNegativeChange(t *testing.T) {
	event := renderedEvent()
	event.PercentChange = decimal.RequireFromString("-12.3")
	event.AbsoluteChange = decimal.RequireFromString("-1.23")
	event.PriceCurrent = decimal.RequireFromString("8.77")

	msg := RenderMessage(event, 20)
	if !strings.Contains(msg.Subject, "(-12.3%)") {
		t.Fatalf("subject must carry the signed drop: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Change: -12.3% (-$1.23)") {
		t.Fatalf("body must carry the signed drop:\n%s", msg.Body)
	}
}

func TestRenderMessageFoilMarker(t *testing.T) {
	event := renderedEvent()
	event.Card.Foil = true

	msg := RenderMessage(event, 40)
	if !strings.Contains(msg.Body, "Lightning Bolt (LEA) [Foil]") {
		t.Fatalf("body missing foil marker:\n%s", msg.Body)
	}
}

func TestRenderMessagePure(t *testing.T) {
	event := renderedEvent()
	first := RenderMessage(event, 40)
	second := RenderMessage(event, 40)
	if first != second {
		t.Fatal("rendering the same event twice must produce identical messages")
	}
}
