package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

func baseOptions() Options {
	return Options{
		MinPercentageChange: decimal.NewFromInt(20),
		MinAbsoluteChange:   decimal.RequireFromString("0.50"),
		MinPriceThreshold:   decimal.RequireFromString("0.50"),
		HoursBack:           24,
		MaxCards:            1000,
		MaxEmailsPerHour:    1,
		EmailEnabled:        true,
		NotificationAddress: "collector@example.com",
		ThresholdMode:       trend.ThresholdAny,
	}
}

func TestApplyValidUpdates(t *testing.T) {
	opts := baseOptions()

	updates := map[string]string{
		KeyMinPercentageChange: "35.5",
		KeyMinAbsoluteChange:   "2",
		KeyMinPriceThreshold:   "0",
		KeyHoursBack:           "72",
		KeyMaxCards:            "50",
		KeyMaxEmailsPerHour:    "3",
		KeyEmailEnabled:        "false",
		KeyNotificationAddress: "other@example.com",
		KeyChangeThresholdMode: "all",
	}
	for key, value := range updates {
		if err := opts.Apply(key, value); err != nil {
			t.Fatalf("apply %s=%s failed: %v", key, value, err)
		}
	}

	if !opts.MinPercentageChange.Equal(decimal.RequireFromString("35.5")) {
		t.Fatalf("percentage = %s", opts.MinPercentageChange)
	}
	if opts.HoursBack != 72 || opts.MaxCards != 50 || opts.MaxEmailsPerHour != 3 {
		t.Fatalf("ints not applied: %+v", opts)
	}
	if opts.EmailEnabled {
		t.Fatal("email_enabled=false not applied")
	}
	if opts.ThresholdMode != trend.ThresholdAll {
		t.Fatalf("mode = %s", opts.ThresholdMode)
	}
}

func TestApplyInvalidValueKeepsPrevious(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{KeyMinPercentageChange, "abc"},
		{KeyMinPercentageChange, "-5"},
		{KeyHoursBack, "0"},
		{KeyHoursBack, "-24"},
		{KeyHoursBack, "soon"},
		{KeyMaxCards, "0"},
		{KeyMaxEmailsPerHour, "-1"},
		{KeyEmailEnabled, "maybe"},
		{KeyNotificationAddress, "not-an-address"},
		{KeyChangeThresholdMode, "both"},
	}

	for _, tc := range cases {
		opts := baseOptions()
		before := opts
		err := opts.Apply(tc.key, tc.value)
		if !errors.Is(err, ErrInvalidValue) {
			t.Errorf("%s=%q: got %v, want ErrInvalidValue", tc.key, tc.value, err)
		}
		if opts != before {
			t.Errorf("%s=%q: options mutated despite rejection", tc.key, tc.value)
		}
	}
}

func TestApplyUnknownKeyRejected(t *testing.T) {
	opts := baseOptions()
	err := opts.Apply("max_alerts_per_minute", "5")
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("got %v, want ErrUnknownKey", err)
	}
}

func TestValueRoundTrip(t *testing.T) {
	opts := baseOptions()
	for _, key := range Keys {
		value, err := opts.Value(key)
		if err != nil {
			t.Fatalf("value for %s failed: %v", key, err)
		}
		fresh := baseOptions()
		if err := fresh.Apply(key, value); err != nil {
			t.Fatalf("rendered value %s=%q did not re-apply: %v", key, value, err)
		}
	}
}

type fakeOptionStore struct {
	options map[string]string
	listErr error
}

func (f *fakeOptionStore) ListOptions(ctx context.Context) (map[string]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.options, nil
}

func (f *fakeOptionStore) SetOption(ctx context.Context, key, value string) error {
	if f.options == nil {
		f.options = make(map[string]string)
	}
	f.options[key] = value
	return nil
}

var _ OptionStore = (*fakeOptionStore)(nil)

func TestLoadOverlaysPersistedValues(t *testing.T) {
	store := &fakeOptionStore{options: map[string]string{
		KeyHoursBack:    "48",
		KeyEmailEnabled: "false",
	}}

	opts, err := Load(context.Background(), store, baseOptions())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if opts.HoursBack != 48 {
		t.Fatalf("hours_back = %d, want 48", opts.HoursBack)
	}
	if opts.EmailEnabled {
		t.Fatal("persisted email_enabled=false must win")
	}
	if opts.MaxCards != 1000 {
		t.Fatalf("untouched option changed: max_cards = %d", opts.MaxCards)
	}
}

func TestLoadSkipsBadRows(t *testing.T) {
	store := &fakeOptionStore{options: map[string]string{
		KeyHoursBack:        "banana",
		KeyMaxEmailsPerHour: "5",
	}}

	opts, err := Load(context.Background(), store, baseOptions())
	if err == nil {
		t.Fatal("bad persisted row must be reported")
	}
	if opts.HoursBack != 24 {
		t.Fatalf("bad row applied: hours_back = %d", opts.HoursBack)
	}
	if opts.MaxEmailsPerHour != 5 {
		t.Fatalf("good row skipped: max_emails_per_hour = %d", opts.MaxEmailsPerHour)
	}
}

func TestSetValidatesBeforePersisting(t *testing.T) {
	store := &fakeOptionStore{}

	if err := Set(context.Background(), store, baseOptions(), KeyHoursBack, "-1"); err == nil {
		t.Fatal("invalid update must be rejected")
	}
	if len(store.options) != 0 {
		t.Fatal("rejected update must not be persisted")
	}

	if err := Set(context.Background(), store, baseOptions(), KeyHoursBack, "48"); err != nil {
		t.Fatalf("valid update failed: %v", err)
	}
	if store.options[KeyHoursBack] != "48" {
		t.Fatalf("persisted value = %q", store.options[KeyHoursBack])
	}
}
