package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Message is a rendered alert ready for delivery.
type Message struct {
	Subject string
	Body    string
	// Recipient routes channels that address per message, e.g. the email
	// notification address. Channels with a fixed destination ignore it.
	Recipient string
}

// RenderMessage builds the notification content for a trend event. It is a
// pure function of its inputs; delivery and bookkeeping happen elsewhere.
func RenderMessage(event trend.TrendEvent, score int) Message {
	priority := PriorityFor(event, score)

	subject := fmt.Sprintf("Price Alert: %s (%s)", event.Card.Name, signedPercent(event.PercentChange))

	builder := strings.Builder{}
	builder.WriteString(event.Card.Name)
	builder.WriteString(fmt.Sprintf(" (%s)", event.Card.SetCode))
	if event.Card.Foil {
		builder.WriteString(" [Foil]")
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Start: $%s\n", event.PriceStart.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Current: $%s\n", event.PriceCurrent.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Change: %s (%s)\n", signedPercent(event.PercentChange), signedAmount(event.AbsoluteChange)))
	builder.WriteString(fmt.Sprintf("Score: %d/100 (%s)\n", score, priority))
	builder.WriteString(fmt.Sprintf("Window: %s over %d snapshots\n", formatWindow(event.Duration()), event.Samples))
	builder.WriteString(fmt.Sprintf("Detected: %s\n", event.DetectedAt.UTC().Format(time.RFC3339)))

	return Message{Subject: subject, Body: builder.String()}
}

func signedPercent(d decimal.Decimal) string {
	if d.Sign() >= 0 {
		return "+" + d.StringFixed(1) + "%"
	}
	return d.StringFixed(1) + "%"
}

func signedAmount(d decimal.Decimal) string {
	if d.Sign() >= 0 {
		return "+$" + d.StringFixed(2)
	}
	return "-$" + d.Abs().StringFixed(2)
}

func formatWindow(d time.Duration) string {
	if d >= time.Hour {
		hours := d.Hours()
		if hours == float64(int(hours)) {
			return fmt.Sprintf("%dh", int(hours))
		}
		return fmt.Sprintf("%.1fh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
