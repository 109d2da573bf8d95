package alerting

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Score weighting. A 100% move saturates the percentage term and a $25 move
// saturates the absolute term; beyond that the score stops growing.
const (
	percentWeight      = 60.0
	absoluteWeight     = 40.0
	percentSaturation  = 100.0
	absoluteSaturation = 25.0
)

// Score rates the urgency of a price movement on a 0-100 scale. It depends
// only on the magnitudes of the percentage and absolute change, so equal
// movements always score the same and larger movements never score lower.
func Score(event trend.TrendEvent) int {
	pct := event.PercentChange.Abs().InexactFloat64()
	abs := event.AbsoluteChange.Abs().InexactFloat64()

	weighted := math.Min(pct/percentSaturation, 1)*percentWeight +
		math.Min(abs/absoluteSaturation, 1)*absoluteWeight

	score := int(math.Round(weighted))
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// Priority tiers an alert for rendering and log levels.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var (
	criticalPct = decimal.NewFromInt(100)
	highPct     = decimal.NewFromInt(50)
	mediumPct   = decimal.NewFromInt(25)
)

// PriorityFor maps a movement and its score onto an escalation tier.
func PriorityFor(event trend.TrendEvent, score int) Priority {
	pct := event.PercentChange.Abs()
	switch {
	case score >= 90 || pct.GreaterThanOrEqual(criticalPct):
		return PriorityCritical
	case score >= 75 || pct.GreaterThanOrEqual(highPct):
		return PriorityHigh
	case score >= 60 || pct.GreaterThanOrEqual(mediumPct):
		return PriorityMedium
	default:
		return PriorityLow
	}
}
