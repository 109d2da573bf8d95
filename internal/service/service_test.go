package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/alerting"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/cache"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/settings"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/storage"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

type recorderChannel struct {
	mu   sync.Mutex
	sent []alerting.Message
	err  error
}

func (c *recorderChannel) Name() string { return "recorder" }

func (c *recorderChannel) Send(ctx context.Context, msg alerting.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recorderChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			Interval:        6 * time.Hour,
			AdvisoryLockKey: 0x6D746753,
		},
		Detector: config.DetectorConfig{
			MinPercentageChange: 20.0,
			MinAbsoluteChange:   0.50,
			MinPriceThreshold:   0.50,
			HoursBack:           24,
			MaxCards:            1000,
			ChangeThresholdMode: "any",
		},
		Alerting: config.AlertingConfig{
			MaxEmailsPerHour: 5,
			Cooldown:         15 * time.Minute,
			Email: config.EmailConfig{
				Enabled: true,
				To:      "alerts@example.com",
			},
		},
		Retention: config.RetentionConfig{
			SnapshotDays: 30,
			AlertDays:    30,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, channel alerting.Channel) (*Service, storage.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "service.db")
	store, err := storage.OpenSQLite(context.Background(), dbPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(store.Close)

	detector := trend.NewDetector(store, zerolog.Nop())
	limiter := alerting.NewRateLimiter(cfg.Alerting.MaxEmailsPerHour, cfg.Alerting.MaxEmailsPerDay)
	suppressor := alerting.NewSuppressor(cache.NewMemory(), alerting.SuppressorOptions{
		Cooldown: cfg.Alerting.Cooldown,
	}, zerolog.Nop())
	pipeline := alerting.NewPipeline(limiter, suppressor, []alerting.Channel{channel}, zerolog.Nop())

	svc := New(cfg, nil, store, detector, pipeline, limiter, zerolog.Nop())
	return svc, store
}

func seedPricePair(t *testing.T, store storage.Store, name, set string, start, current float64, now time.Time) {
	t.Helper()

	id := card.Identity{Name: name, SetCode: set}
	_, err := store.InsertSnapshots(context.Background(), []card.PriceSnapshot{
		{Card: id, Price: decimal.NewFromFloat(start), Source: "test", ObservedAt: now.Add(-6 * time.Hour)},
		{Card: id, Price: decimal.NewFromFloat(current), Source: "test", ObservedAt: now},
	})
	if err != nil {
		t.Fatalf("seeding snapshots failed: %v", err)
	}
}

func TestRunDetectionCycleDispatchesTrendingCards(t *testing.T) {
	channel := &recorderChannel{}
	svc, store := newTestService(t, testConfig(), channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	seedPricePair(t, store, "Lightning Bolt", "LEA", 10.00, 12.50, now)
	seedPricePair(t, store, "Stable Card", "TST", 5.00, 5.01, now)

	report, err := svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}
	if report.CycleID == "" {
		t.Error("cycle report should carry an id")
	}
	if report.Skipped {
		t.Error("cycle should not be skipped")
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("outcomes: want 1, got %d", len(report.Outcomes))
	}

	outcome := report.Outcomes[0]
	if outcome.Event.Card.Name != "Lightning Bolt" {
		t.Errorf("card: want Lightning Bolt, got %s", outcome.Event.Card.Name)
	}
	if !outcome.Dispatched {
		t.Error("qualifying event should be dispatched")
	}
	if outcome.Priority != alerting.PriorityMedium {
		t.Errorf("priority: want medium, got %s", outcome.Priority)
	}
	if report.Dispatched != 1 {
		t.Errorf("dispatched count: want 1, got %d", report.Dispatched)
	}

	if channel.sentCount() != 1 {
		t.Fatalf("channel deliveries: want 1, got %d", channel.sentCount())
	}
	if got := channel.sent[0].Recipient; got != "alerts@example.com" {
		t.Errorf("recipient: want alerts@example.com, got %q", got)
	}

	alerts, err := store.ListRecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("audit records: want 1, got %d", len(alerts))
	}
	if alerts[0].Card.Name != "Lightning Bolt" || alerts[0].Priority != "medium" {
		t.Errorf("unexpected audit record: %+v", alerts[0])
	}
	if len(alerts[0].Channels) != 1 || alerts[0].Channels[0] != "recorder" {
		t.Errorf("audit channels: want [recorder], got %v", alerts[0].Channels)
	}

	marker, ok, err := store.GetOption(ctx, OptionLastCycleAt)
	if err != nil || !ok {
		t.Fatalf("cycle marker missing: ok=%v err=%v", ok, err)
	}
	if at, parseErr := time.Parse(time.RFC3339, marker); parseErr != nil || !at.Equal(now) {
		t.Errorf("last cycle marker = %q, want %s", marker, now.Format(time.RFC3339))
	}
	if trends, _, _ := store.GetOption(ctx, OptionLastCycleTrends); trends != "1" {
		t.Errorf("trend marker = %q, want 1", trends)
	}
}

func TestRunDetectionCycleHonorsRuntimeOverrides(t *testing.T) {
	channel := &recorderChannel{}
	svc, store := newTestService(t, testConfig(), channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	seedPricePair(t, store, "Lightning Bolt", "LEA", 10.00, 12.50, now)

	if err := store.SetOption(ctx, settings.KeyEmailEnabled, "false"); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}

	report, err := svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("outcomes: want 1, got %d", len(report.Outcomes))
	}
	if report.Outcomes[0].Dispatched {
		t.Error("dispatch should be disabled by the persisted override")
	}
	if channel.sentCount() != 0 {
		t.Errorf("channel deliveries: want 0, got %d", channel.sentCount())
	}

	alerts, err := store.ListRecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentAlerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("audit records: want 0, got %d", len(alerts))
	}
}

func TestRunDetectionCycleRespectsBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.MaxEmailsPerHour = 1
	channel := &recorderChannel{}
	svc, store := newTestService(t, cfg, channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	seedPricePair(t, store, "Big Jump", "TST", 10.00, 20.00, now)
	seedPricePair(t, store, "Small Jump", "TST", 10.00, 13.00, now)

	report, err := svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("outcomes: want 2, got %d", len(report.Outcomes))
	}
	if report.Dispatched != 1 {
		t.Errorf("dispatched: want 1, got %d", report.Dispatched)
	}
	if !report.Outcomes[0].Dispatched || report.Outcomes[1].Dispatched {
		t.Error("only the top-ranked event should consume the budget")
	}
	if report.Outcomes[0].Event.Card.Name != "Big Jump" {
		t.Errorf("first outcome: want Big Jump, got %s", report.Outcomes[0].Event.Card.Name)
	}
	if channel.sentCount() != 1 {
		t.Errorf("channel deliveries: want 1, got %d", channel.sentCount())
	}
}

func TestRunDetectionCycleSkipsWhenLockHeld(t *testing.T) {
	channel := &recorderChannel{}
	svc, store := newTestService(t, testConfig(), channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	seedPricePair(t, store, "Lightning Bolt", "LEA", 10.00, 12.50, now)

	unlock, acquired, err := store.TryAdvisoryLock(ctx, 0x6D746753)
	if err != nil || !acquired {
		t.Fatalf("manual lock failed: acquired=%v err=%v", acquired, err)
	}

	report, err := svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}
	if !report.Skipped {
		t.Error("cycle should be skipped while lock is held")
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("skipped cycle should have no outcomes, got %d", len(report.Outcomes))
	}
	if _, ok, _ := store.GetOption(ctx, OptionLastCycleAt); ok {
		t.Error("skipped cycle must not record a cycle marker")
	}

	unlock()

	report, err = svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle after unlock failed: %v", err)
	}
	if report.Skipped || report.Dispatched != 1 {
		t.Errorf("cycle after unlock: want dispatch, got skipped=%v dispatched=%d",
			report.Skipped, report.Dispatched)
	}
}

func TestRunDetectionCycleFailedDeliveryKeepsBudget(t *testing.T) {
	channel := &recorderChannel{err: errors.New("smtp down")}
	svc, store := newTestService(t, testConfig(), channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	seedPricePair(t, store, "Lightning Bolt", "LEA", 10.00, 12.50, now)

	report, err := svc.RunDetectionCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}
	if report.Failed != 1 || report.Dispatched != 0 {
		t.Errorf("failed=%d dispatched=%d, want 1 and 0", report.Failed, report.Dispatched)
	}

	alerts, err := store.ListRecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentAlerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("failed delivery must not persist an audit record, got %d", len(alerts))
	}

	// The transport recovers. The same event can still go out because the
	// failure consumed neither budget nor cooldown.
	channel.mu.Lock()
	channel.err = nil
	channel.mu.Unlock()

	report, err = svc.RunDetectionCycle(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunDetectionCycle retry failed: %v", err)
	}
	if report.Dispatched != 1 {
		t.Errorf("retry dispatched: want 1, got %d", report.Dispatched)
	}
}

func TestRunDetectionCycleSweepsRetention(t *testing.T) {
	channel := &recorderChannel{}
	svc, store := newTestService(t, testConfig(), channel)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	old := card.PriceSnapshot{
		Card:       card.Identity{Name: "Forgotten", SetCode: "OLD"},
		Price:      decimal.NewFromFloat(1),
		Source:     "test",
		ObservedAt: now.AddDate(0, 0, -40),
	}
	if _, err := store.InsertSnapshots(ctx, []card.PriceSnapshot{old}); err != nil {
		t.Fatalf("seeding old snapshot failed: %v", err)
	}
	seedPricePair(t, store, "Lightning Bolt", "LEA", 10.00, 12.50, now)

	if _, err := svc.RunDetectionCycle(ctx, now); err != nil {
		t.Fatalf("RunDetectionCycle failed: %v", err)
	}

	counts, err := store.CountHistory(ctx)
	if err != nil {
		t.Fatalf("CountHistory failed: %v", err)
	}
	if counts.Snapshots != 2 {
		t.Errorf("snapshots after sweep: want 2, got %d", counts.Snapshots)
	}
	if counts.OldestSnapshot.Before(now.AddDate(0, 0, -30)) {
		t.Errorf("retention sweep left a snapshot from %s", counts.OldestSnapshot)
	}
}
