package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

// SuppressionIndex records when an alert last went out per card variant.
type SuppressionIndex interface {
	LastSent(ctx context.Context, key string) (time.Time, bool, error)
	MarkSent(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

// SuppressorOptions tune the dedup and quiet-hour gates.
type SuppressorOptions struct {
	// Cooldown is the minimum gap between alerts for the same card variant.
	Cooldown time.Duration
	// Quiet hours silence alerts during a local-time window. Start and End
	// are hours of day; a window like 22..8 spans midnight.
	QuietEnabled bool
	QuietStart   int
	QuietEnd     int
}

// Suppressor decides whether a card is eligible for another alert right now.
type Suppressor struct {
	index  SuppressionIndex
	opts   SuppressorOptions
	logger zerolog.Logger
}

// NewSuppressor wires a suppression index into the alert path.
func NewSuppressor(index SuppressionIndex, opts SuppressorOptions, logger zerolog.Logger) *Suppressor {
	return &Suppressor{
		index:  index,
		opts:   opts,
		logger: logging.Component(logger, "suppressor"),
	}
}

// ShouldSend reports whether the card may alert at now, with a reason when it
// may not. An unreachable index fails open: a lost cooldown marker costs a
// duplicate alert, not a missed one.
func (s *Suppressor) ShouldSend(ctx context.Context, id card.Identity, now time.Time) (bool, string) {
	if s.quietAt(now) {
		return false, "quiet_hours"
	}

	if s.index == nil || s.opts.Cooldown <= 0 {
		return true, ""
	}

	last, found, err := s.index.LastSent(ctx, id.Key())
	if err != nil {
		s.logger.Warn().Err(err).Str("card", id.String()).Msg("suppression index unavailable; allowing alert")
		return true, ""
	}
	if found && now.Sub(last) < s.opts.Cooldown {
		return false, "cooldown"
	}
	return true, ""
}

// MarkSent stamps the card after a confirmed delivery.
func (s *Suppressor) MarkSent(ctx context.Context, id card.Identity, now time.Time) {
	if s.index == nil || s.opts.Cooldown <= 0 {
		return
	}
	if err := s.index.MarkSent(ctx, id.Key(), now, s.opts.Cooldown); err != nil {
		s.logger.Warn().Err(err).Str("card", id.String()).Msg("failed to record suppression marker")
	}
}

func (s *Suppressor) quietAt(now time.Time) bool {
	if !s.opts.QuietEnabled || s.opts.QuietStart == s.opts.QuietEnd {
		return false
	}
	hour := now.Hour()
	if s.opts.QuietStart < s.opts.QuietEnd {
		return hour >= s.opts.QuietStart && hour < s.opts.QuietEnd
	}
	return hour >= s.opts.QuietStart || hour < s.opts.QuietEnd
}
