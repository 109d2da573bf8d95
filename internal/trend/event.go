package trend

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
)

// ThresholdMode selects how the percentage and absolute thresholds combine.
type ThresholdMode string

const (
	// ThresholdAny includes a movement when either threshold is met.
	ThresholdAny ThresholdMode = "any"
	// ThresholdAll requires both thresholds to be met.
	ThresholdAll ThresholdMode = "all"
)

// ParseThresholdMode validates a configured mode string.
func ParseThresholdMode(s string) (ThresholdMode, error) {
	switch ThresholdMode(s) {
	case ThresholdAny, ThresholdAll:
		return ThresholdMode(s), nil
	case "":
		return ThresholdAny, nil
	default:
		return "", fmt.Errorf("invalid threshold mode %q (want any or all)", s)
	}
}

// Params tune a single detection pass.
type Params struct {
	MinPercentChange  decimal.Decimal
	MinAbsoluteChange decimal.Decimal
	// MinPriceFloor excludes cards whose current price is below it.
	// Zero or negative disables the floor.
	MinPriceFloor decimal.Decimal
	HoursBack     int
	// MaxResults caps how many ranked events are returned. Zero or
	// negative returns all qualifying events.
	MaxResults int
	Mode       ThresholdMode
}

// TrendEvent describes one detected price movement.
type TrendEvent struct {
	Card           card.Identity
	PriceStart     decimal.Decimal
	PriceCurrent   decimal.Decimal
	PercentChange  decimal.Decimal
	AbsoluteChange decimal.Decimal
	FirstSeen      time.Time
	LastSeen       time.Time
	DetectedAt     time.Time
	Samples        int
}

// Duration is the span between the earliest and latest snapshot backing the event.
func (e TrendEvent) Duration() time.Duration {
	return e.LastSeen.Sub(e.FirstSeen)
}

// Rising reports whether the price moved up over the window.
func (e TrendEvent) Rising() bool {
	return e.AbsoluteChange.Sign() > 0
}
