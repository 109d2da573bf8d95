package trend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

var (
	// ErrInvalidWindow indicates a non-positive detection window.
	ErrInvalidWindow = errors.New("trend: invalid detection window")
	// ErrStoreUnavailable indicates the snapshot store could not be queried.
	ErrStoreUnavailable = errors.New("trend: snapshot store unavailable")
)

// SnapshotSource is the slice of the snapshot store the detector consumes.
// Snapshots must be returned in ascending timestamp order.
type SnapshotSource interface {
	QueryRange(ctx context.Context, from, to time.Time) ([]card.PriceSnapshot, error)
}

var oneHundred = decimal.NewFromInt(100)

// Detector finds cards whose price moved past configured thresholds.
type Detector struct {
	source SnapshotSource
	logger zerolog.Logger
}

// NewDetector wires a snapshot source into a Detector.
func NewDetector(source SnapshotSource, logger zerolog.Logger) *Detector {
	return &Detector{
		source: source,
		logger: logging.Component(logger, "detector"),
	}
}

// FindTrendingCards compares the earliest and latest price per card variant
// within the lookback window and returns qualifying movements ranked by
// percentage magnitude, then absolute magnitude, then card identity.
func (d *Detector) FindTrendingCards(ctx context.Context, now time.Time, params Params) ([]TrendEvent, error) {
	if params.HoursBack <= 0 {
		return nil, fmt.Errorf("%w: hours_back must be positive, got %d", ErrInvalidWindow, params.HoursBack)
	}

	from := now.Add(-time.Duration(params.HoursBack) * time.Hour)
	snapshots, err := d.source.QueryRange(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	groups := groupByCard(snapshots)

	events := make([]TrendEvent, 0, len(groups))
	skippedSparse := 0
	skippedZeroStart := 0
	for _, group := range groups {
		if len(group) < 2 {
			skippedSparse++
			continue
		}

		first := group[0]
		last := group[len(group)-1]
		if first.Price.IsZero() {
			// Percentage change is undefined from a zero base.
			skippedZeroStart++
			continue
		}

		absolute := last.Price.Sub(first.Price)
		percent := absolute.Div(first.Price).Mul(oneHundred)

		if !qualifies(percent, absolute, last.Price, params) {
			continue
		}

		events = append(events, TrendEvent{
			Card:           first.Card,
			PriceStart:     first.Price,
			PriceCurrent:   last.Price,
			PercentChange:  percent,
			AbsoluteChange: absolute,
			FirstSeen:      first.ObservedAt,
			LastSeen:       last.ObservedAt,
			DetectedAt:     now,
			Samples:        len(group),
		})
	}

	rankEvents(events)

	if params.MaxResults > 0 && len(events) > params.MaxResults {
		events = events[:params.MaxResults]
	}

	d.logger.Debug().
		Int("snapshots", len(snapshots)).
		Int("cards", len(groups)).
		Int("events", len(events)).
		Int("skipped_sparse", skippedSparse).
		Int("skipped_zero_start", skippedZeroStart).
		Time("window_from", from).
		Msg("detection pass complete")

	return events, nil
}

// qualifies applies the price floor and the configured threshold combination.
func qualifies(percent, absolute, current decimal.Decimal, params Params) bool {
	if params.MinPriceFloor.IsPositive() && current.LessThan(params.MinPriceFloor) {
		return false
	}

	pctHit := percent.Abs().GreaterThanOrEqual(params.MinPercentChange)
	absHit := absolute.Abs().GreaterThanOrEqual(params.MinAbsoluteChange)

	if params.Mode == ThresholdAll {
		return pctHit && absHit
	}
	return pctHit || absHit
}

// groupByCard splits snapshots per card variant, preserving the store's
// timestamp order within each group.
func groupByCard(snapshots []card.PriceSnapshot) map[string][]card.PriceSnapshot {
	groups := make(map[string][]card.PriceSnapshot)
	for _, snap := range snapshots {
		key := snap.Card.Key()
		groups[key] = append(groups[key], snap)
	}
	return groups
}

func rankEvents(events []TrendEvent) {
	sort.Slice(events, func(i, j int) bool {
		pi := events[i].PercentChange.Abs()
		pj := events[j].PercentChange.Abs()
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		ai := events[i].AbsoluteChange.Abs()
		aj := events[j].AbsoluteChange.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return events[i].Card.Less(events[j].Card)
	})
}
