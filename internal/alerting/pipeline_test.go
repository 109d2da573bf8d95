package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

type recorderChannel struct {
	name     string
	attempts int
	sent     []Message
	err      error
}

func (r *recorderChannel) Name() string { return r.name }

func (r *recorderChannel) Send(ctx context.Context, msg Message) error {
	r.attempts++
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

var _ Channel = (*recorderChannel)(nil)

func pipelineEvent(name string) trend.TrendEvent {
	detected := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return trend.TrendEvent{
		Card:           card.Identity{Name: name, SetCode: "LEA"},
		PriceStart:     decimal.RequireFromString("10.00"),
		PriceCurrent:   decimal.RequireFromString("12.50"),
		PercentChange:  decimal.RequireFromString("25"),
		AbsoluteChange: decimal.RequireFromString("2.50"),
		FirstSeen:      detected.Add(-24 * time.Hour),
		LastSeen:       detected,
		DetectedAt:     detected,
		Samples:        3,
	}
}

func newTestPipeline(limiter *RateLimiter, channels ...Channel) *Pipeline {
	supp := NewSuppressor(newFakeIndex(), SuppressorOptions{Cooldown: 15 * time.Minute}, zerolog.Nop())
	return NewPipeline(limiter, supp, channels, zerolog.Nop())
}

func TestPipelineDispatchesAndConsumesBudget(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel := &recorderChannel{name: "test"}
	limiter := NewRateLimiter(5, 0)
	pipeline := newTestPipeline(limiter, channel)

	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, Delivery{Enabled: true, Recipient: "collector@example.com"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !dispatched {
		t.Fatal("expected a dispatched alert")
	}
	if len(channel.sent) != 1 {
		t.Fatalf("channel received %d messages, want 1", len(channel.sent))
	}
	if channel.sent[0].Recipient != "collector@example.com" {
		t.Fatalf("recipient = %q", channel.sent[0].Recipient)
	}
	if channel.sent[0].Subject == "" {
		t.Fatal("message subject must be rendered")
	}
	if state := limiter.State(now); state.HourCount != 1 {
		t.Fatalf("budget consumed = %d, want 1", state.HourCount)
	}
}

func TestPipelineDisabledSkipsWithoutAttempt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel := &recorderChannel{name: "test"}
	limiter := NewRateLimiter(5, 0)
	pipeline := newTestPipeline(limiter, channel)

	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, Delivery{Enabled: false})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if dispatched {
		t.Fatal("disabled dispatch must not send")
	}
	if channel.attempts != 0 {
		t.Fatalf("channel attempted %d times, want 0", channel.attempts)
	}
	if state := limiter.State(now); state.HourCount != 0 {
		t.Fatalf("budget consumed = %d, want 0", state.HourCount)
	}
}

func TestPipelineBudgetExhaustedSkipsDelivery(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel := &recorderChannel{name: "test"}
	limiter := NewRateLimiter(1, 0)
	pipeline := newTestPipeline(limiter, channel)
	delivery := Delivery{Enabled: true}

	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, delivery)
	if err != nil || !dispatched {
		t.Fatalf("first alert: dispatched=%v err=%v", dispatched, err)
	}

	// Different card, so only the budget can stop it.
	dispatched, err = pipeline.Process(context.Background(), pipelineEvent("Black Lotus"), now.Add(time.Minute), delivery)
	if err != nil {
		t.Fatalf("second alert errored: %v", err)
	}
	if dispatched {
		t.Fatal("second alert must be denied by the hourly budget")
	}
	if channel.attempts != 1 {
		t.Fatalf("denied alert must not reach the channel; attempts = %d", channel.attempts)
	}
}

func TestPipelineFailedDeliveryKeepsBudget(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel := &recorderChannel{name: "test", err: errors.New("smtp: connection reset")}
	limiter := NewRateLimiter(1, 0)
	pipeline := newTestPipeline(limiter, channel)
	delivery := Delivery{Enabled: true}

	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, delivery)
	if dispatched {
		t.Fatal("failed delivery must report not dispatched")
	}
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("got %v, want ErrDeliveryFailed", err)
	}
	if state := limiter.State(now); state.HourCount != 0 {
		t.Fatalf("failed delivery consumed budget: %d", state.HourCount)
	}

	// The same event retries cleanly once the channel recovers.
	channel.err = nil
	dispatched, err = pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now.Add(time.Minute), delivery)
	if err != nil || !dispatched {
		t.Fatalf("retry after recovery: dispatched=%v err=%v", dispatched, err)
	}
}

func TestPipelineCooldownSuppressesRepeat(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	channel := &recorderChannel{name: "test"}
	pipeline := newTestPipeline(NewRateLimiter(10, 0), channel)
	delivery := Delivery{Enabled: true}

	if dispatched, _ := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, delivery); !dispatched {
		t.Fatal("first alert must dispatch")
	}
	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now.Add(5*time.Minute), delivery)
	if err != nil {
		t.Fatalf("repeat errored: %v", err)
	}
	if dispatched {
		t.Fatal("repeat inside the cooldown must be suppressed")
	}
	if channel.attempts != 1 {
		t.Fatalf("suppressed alert must not reach the channel; attempts = %d", channel.attempts)
	}
}

func TestPipelinePartialDeliveryCountsOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	good := &recorderChannel{name: "good"}
	bad := &recorderChannel{name: "bad", err: errors.New("boom")}
	limiter := NewRateLimiter(5, 0)
	supp := NewSuppressor(newFakeIndex(), SuppressorOptions{Cooldown: 15 * time.Minute}, zerolog.Nop())
	pipeline := NewPipeline(limiter, supp, []Channel{bad, good}, zerolog.Nop())

	dispatched, err := pipeline.Process(context.Background(), pipelineEvent("Lightning Bolt"), now, Delivery{Enabled: true})
	if err != nil {
		t.Fatalf("partial delivery must not surface an error: %v", err)
	}
	if !dispatched {
		t.Fatal("one successful channel is a dispatch")
	}
	if state := limiter.State(now); state.HourCount != 1 {
		t.Fatalf("budget consumed = %d, want 1", state.HourCount)
	}
}
