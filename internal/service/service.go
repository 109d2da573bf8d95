package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/alerting"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/scheduler"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/settings"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/storage"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Cycle marker keys persisted next to the runtime options so the stats
// command can report monitor liveness from another process.
const (
	OptionLastCycleAt         = "last_cycle_at"
	OptionLastCycleTrends     = "last_cycle_trends"
	OptionLastCycleDispatched = "last_cycle_dispatched"
)

// EventOutcome pairs one detected trend with its dispatch result.
type EventOutcome struct {
	Event      trend.TrendEvent
	Score      int
	Priority   alerting.Priority
	Dispatched bool
}

// CycleReport summarises one detection cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	Duration   time.Duration
	Outcomes   []EventOutcome
	Dispatched int
	Failed     int
	Skipped    bool
}

// Service orchestrates detection, alert dispatch, and retention.
type Service struct {
	scheduler *scheduler.Scheduler
	store     storage.Store
	detector  *trend.Detector
	pipeline  *alerting.Pipeline
	limiter   *alerting.RateLimiter
	logger    zerolog.Logger

	base         settings.Options
	maxPerDay    int
	lockKey      int64
	snapshotDays int
	alertDays    int
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, store storage.Store, detector *trend.Detector, pipeline *alerting.Pipeline, limiter *alerting.RateLimiter, logger zerolog.Logger) *Service {
	base := settings.FromConfig(cfg)

	return &Service{
		scheduler:    sched,
		store:        store,
		detector:     detector,
		pipeline:     pipeline,
		limiter:      limiter,
		logger:       logging.Component(logger, "service"),
		base:         base,
		maxPerDay:    cfg.Alerting.MaxEmailsPerDay,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		snapshotDays: cfg.Retention.SnapshotDays,
		alertDays:    cfg.Retention.AlertDays,
	}
}

// Run begins the scheduled detection loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.RunDetectionCycle(ctx, at)
		return err
	})
}

// RunDetectionCycle executes one full cycle: load current settings, detect
// trending cards, and walk each event through the alert pipeline. The cycle
// is skipped without error when another instance holds the advisory lock.
func (s *Service) RunDetectionCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	report := CycleReport{
		CycleID:   uuid.New().String(),
		StartedAt: now,
	}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	opts := s.currentOptions(ctx, logger)
	if s.limiter != nil {
		s.limiter.SetLimits(opts.MaxEmailsPerHour, s.maxPerDay)
	}

	events, err := s.detector.FindTrendingCards(ctx, now, opts.DetectorParams())
	if err != nil {
		return report, fmt.Errorf("find trending cards: %w", err)
	}

	delivery := alerting.Delivery{
		Enabled:   opts.EmailEnabled,
		Recipient: opts.NotificationAddress,
	}

	report.Outcomes = make([]EventOutcome, 0, len(events))
	for _, event := range events {
		score := alerting.Score(event)
		outcome := EventOutcome{
			Event:    event,
			Score:    score,
			Priority: alerting.PriorityFor(event, score),
		}

		dispatched, procErr := s.pipeline.Process(ctx, event, now, delivery)
		if procErr != nil {
			logger.Error().Err(procErr).Str("card", event.Card.String()).Msg("alert processing failed")
			report.Failed++
		}
		outcome.Dispatched = dispatched

		if dispatched {
			report.Dispatched++
			s.recordAlert(ctx, logger, outcome)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	s.sweepRetention(ctx, logger, now)
	s.recordCycleMarker(ctx, logger, report)

	report.Duration = time.Since(now)
	logger.Info().
		Int("detected", len(report.Outcomes)).
		Int("dispatched", report.Dispatched).
		Int("failed", report.Failed).
		Msg("detection cycle complete")
	return report, nil
}

// currentOptions overlays persisted runtime overrides on the config baseline.
// A broken override falls back to the baseline rather than stopping the cycle.
func (s *Service) currentOptions(ctx context.Context, logger zerolog.Logger) settings.Options {
	opts, err := settings.Load(ctx, s.store, s.base)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load runtime settings, using config defaults")
	}
	return opts
}

func (s *Service) recordAlert(ctx context.Context, logger zerolog.Logger, outcome EventOutcome) {
	event := outcome.Event
	record := storage.AlertRecord{
		Card:           event.Card,
		PriceStart:     event.PriceStart,
		PriceCurrent:   event.PriceCurrent,
		PercentChange:  event.PercentChange,
		AbsoluteChange: event.AbsoluteChange,
		Score:          outcome.Score,
		Priority:       string(outcome.Priority),
		Channels:       s.pipeline.ChannelNames(),
		DetectedAt:     event.DetectedAt,
	}
	if _, err := s.store.InsertAlert(ctx, record); err != nil {
		logger.Error().Err(err).Str("card", event.Card.String()).Msg("failed to persist alert record")
	}
}

func (s *Service) recordCycleMarker(ctx context.Context, logger zerolog.Logger, report CycleReport) {
	markers := []struct{ key, value string }{
		{OptionLastCycleAt, report.StartedAt.UTC().Format(time.RFC3339)},
		{OptionLastCycleTrends, strconv.Itoa(len(report.Outcomes))},
		{OptionLastCycleDispatched, strconv.Itoa(report.Dispatched)},
	}
	for _, marker := range markers {
		if err := s.store.SetOption(ctx, marker.key, marker.value); err != nil {
			logger.Warn().Err(err).Str("key", marker.key).Msg("failed to record cycle marker")
			return
		}
	}
}

func (s *Service) sweepRetention(ctx context.Context, logger zerolog.Logger, now time.Time) {
	if s.snapshotDays > 0 {
		cutoff := now.AddDate(0, 0, -s.snapshotDays)
		deleted, err := s.store.DeleteSnapshotsBefore(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("snapshot retention sweep failed")
		} else if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned old snapshots")
		}
	}
	if s.alertDays > 0 {
		cutoff := now.AddDate(0, 0, -s.alertDays)
		deleted, err := s.store.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("alert retention sweep failed")
		} else if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned old alerts")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.store == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.store.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
