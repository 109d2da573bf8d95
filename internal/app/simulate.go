package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/alerting"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/settings"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// SimulateAlert 通过给定的起止价格模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, id card.Identity, start, current decimal.Decimal) error {
	channels, err := a.newChannels()
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	source := &staticSnapshotSource{snapshots: []card.PriceSnapshot{
		{Card: id, Price: start, Source: "simulated", ObservedAt: now.Add(-time.Hour)},
		{Card: id, Price: current, Source: "simulated", ObservedAt: now},
	}}

	detector := trend.NewDetector(source, a.Logger)
	opts := settings.FromConfig(a.Config)

	events, err := detector.FindTrendingCards(ctx, now, opts.DetectorParams())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("模拟价格未触发任何阈值，请调整 --start/--current")
	}

	// Fresh limiter and no suppressor: a simulation must not consume the
	// live notification budget or stamp cooldown markers.
	limiter := alerting.NewRateLimiter(a.Config.Alerting.MaxEmailsPerHour, a.Config.Alerting.MaxEmailsPerDay)
	pipeline := alerting.NewPipeline(limiter, nil, channels, a.Logger)

	delivery := alerting.Delivery{Enabled: true, Recipient: a.Config.Alerting.Email.To}
	for _, event := range events {
		if _, err := pipeline.Process(ctx, event, now, delivery); err != nil {
			return err
		}
	}
	return nil
}

type staticSnapshotSource struct {
	snapshots []card.PriceSnapshot
}

func (s *staticSnapshotSource) QueryRange(ctx context.Context, from, to time.Time) ([]card.PriceSnapshot, error) {
	return s.snapshots, nil
}

var _ trend.SnapshotSource = (*staticSnapshotSource)(nil)
