package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Delivery is the per-cycle snapshot of runtime-tunable dispatch settings.
type Delivery struct {
	Enabled   bool
	Recipient string
}

// Pipeline carries one trend event through scoring, gating, rendering, and
// delivery. Every gate that stops an event leaves the rate budget and the
// suppression index untouched, so re-running the same event is safe.
type Pipeline struct {
	limiter    *RateLimiter
	suppressor *Suppressor
	channels   []Channel
	logger     zerolog.Logger
}

// NewPipeline assembles the alert path.
func NewPipeline(limiter *RateLimiter, suppressor *Suppressor, channels []Channel, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		limiter:    limiter,
		suppressor: suppressor,
		channels:   channels,
		logger:     logging.Component(logger, "alert_pipeline"),
	}
}

// ChannelNames lists the configured delivery channels.
func (p *Pipeline) ChannelNames() []string {
	names := make([]string, 0, len(p.channels))
	for _, channel := range p.channels {
		names = append(names, channel.Name())
	}
	return names
}

// Process scores an event and dispatches it when every gate passes. It
// returns whether a notification went out. Budget is consumed and the
// suppression marker written only after a channel confirmed delivery; a
// failed delivery returns an ErrDeliveryFailed-wrapped error and mutates
// nothing.
func (p *Pipeline) Process(ctx context.Context, event trend.TrendEvent, now time.Time, delivery Delivery) (bool, error) {
	score := Score(event)
	logger := p.logger.With().
		Str("card", event.Card.String()).
		Int("score", score).
		Logger()

	if !delivery.Enabled {
		logger.Debug().Msg("alert dispatch disabled")
		return false, nil
	}
	if len(p.channels) == 0 {
		logger.Warn().Msg("no alert channels configured")
		return false, nil
	}

	if p.suppressor != nil {
		if ok, reason := p.suppressor.ShouldSend(ctx, event.Card, now); !ok {
			logger.Debug().Str("reason", reason).Msg("alert suppressed")
			return false, nil
		}
	}

	if p.limiter != nil && !p.limiter.Allow(now) {
		logger.Debug().Msg("notification budget exhausted")
		return false, nil
	}

	msg := RenderMessage(event, score)
	msg.Recipient = delivery.Recipient

	delivered := 0
	var sendErrs []error
	for _, channel := range p.channels {
		if err := channel.Send(ctx, msg); err != nil {
			logger.Error().Err(err).Str("channel", channel.Name()).Msg("alert delivery failed")
			sendErrs = append(sendErrs, fmt.Errorf("%s: %w", channel.Name(), err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return false, fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(sendErrs...))
	}

	if p.limiter != nil {
		p.limiter.RecordSent(now)
	}
	if p.suppressor != nil {
		p.suppressor.MarkSent(ctx, event.Card, now)
	}

	logger.Info().
		Str("priority", string(PriorityFor(event, score))).
		Int("channels", delivered).
		Msg("alert dispatched")
	return true, nil
}
