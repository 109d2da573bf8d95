// Package settings holds the runtime-tunable alerting options. Values start
// from file configuration and are overlaid with persisted overrides before
// every detection cycle, so edits apply without a restart.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Option keys accepted by Apply and the config command.
const (
	KeyMinPercentageChange = "min_percentage_change"
	KeyMinAbsoluteChange   = "min_absolute_change"
	KeyMinPriceThreshold   = "min_price_threshold"
	KeyHoursBack           = "hours_back"
	KeyMaxCards            = "max_cards"
	KeyMaxEmailsPerHour    = "max_emails_per_hour"
	KeyEmailEnabled        = "email_enabled"
	KeyNotificationAddress = "notification_address"
	KeyChangeThresholdMode = "change_threshold_mode"
)

// Keys lists every recognised option in display order.
var Keys = []string{
	KeyMinPercentageChange,
	KeyMinAbsoluteChange,
	KeyMinPriceThreshold,
	KeyHoursBack,
	KeyMaxCards,
	KeyMaxEmailsPerHour,
	KeyEmailEnabled,
	KeyNotificationAddress,
	KeyChangeThresholdMode,
}

var (
	// ErrUnknownKey rejects option names outside the recognised set.
	ErrUnknownKey = errors.New("settings: unknown option key")
	// ErrInvalidValue rejects a value that fails to parse or validate. The
	// previous value stays active.
	ErrInvalidValue = errors.New("settings: invalid option value")
)

// OptionStore is the persisted key/value slice of the storage layer.
type OptionStore interface {
	ListOptions(ctx context.Context) (map[string]string, error)
	SetOption(ctx context.Context, key, value string) error
}

// Options is the runtime-tunable slice of detector and alerting behaviour.
type Options struct {
	MinPercentageChange decimal.Decimal
	MinAbsoluteChange   decimal.Decimal
	MinPriceThreshold   decimal.Decimal
	HoursBack           int
	MaxCards            int
	MaxEmailsPerHour    int
	EmailEnabled        bool
	NotificationAddress string
	ThresholdMode       trend.ThresholdMode
}

// FromConfig seeds options from the validated file configuration.
func FromConfig(cfg *config.Config) Options {
	mode, _ := trend.ParseThresholdMode(cfg.Detector.ChangeThresholdMode)
	return Options{
		MinPercentageChange: decimal.NewFromFloat(cfg.Detector.MinPercentageChange),
		MinAbsoluteChange:   decimal.NewFromFloat(cfg.Detector.MinAbsoluteChange),
		MinPriceThreshold:   decimal.NewFromFloat(cfg.Detector.MinPriceThreshold),
		HoursBack:           cfg.Detector.HoursBack,
		MaxCards:            cfg.Detector.MaxCards,
		MaxEmailsPerHour:    cfg.Alerting.MaxEmailsPerHour,
		EmailEnabled:        cfg.Alerting.Email.Enabled,
		NotificationAddress: cfg.Alerting.Email.To,
		ThresholdMode:       mode,
	}
}

// Apply parses and validates one option update. On any error the receiver is
// left untouched.
func (o *Options) Apply(key, value string) error {
	switch key {
	case KeyMinPercentageChange:
		parsed, err := parseNonNegativeDecimal(key, value)
		if err != nil {
			return err
		}
		o.MinPercentageChange = parsed
	case KeyMinAbsoluteChange:
		parsed, err := parseNonNegativeDecimal(key, value)
		if err != nil {
			return err
		}
		o.MinAbsoluteChange = parsed
	case KeyMinPriceThreshold:
		// Zero or negative disables the price floor, so any number is fine.
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be numeric, got %q", ErrInvalidValue, key, value)
		}
		o.MinPriceThreshold = parsed
	case KeyHoursBack:
		parsed, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		o.HoursBack = parsed
	case KeyMaxCards:
		parsed, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		o.MaxCards = parsed
	case KeyMaxEmailsPerHour:
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidValue, key, value)
		}
		o.MaxEmailsPerHour = parsed
	case KeyEmailEnabled:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidValue, key, value)
		}
		o.EmailEnabled = parsed
	case KeyNotificationAddress:
		if !strings.Contains(value, "@") {
			return fmt.Errorf("%w: %s must be an email address, got %q", ErrInvalidValue, key, value)
		}
		o.NotificationAddress = value
	case KeyChangeThresholdMode:
		mode, err := trend.ParseThresholdMode(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		o.ThresholdMode = mode
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// Value renders one option for display and persistence.
func (o Options) Value(key string) (string, error) {
	switch key {
	case KeyMinPercentageChange:
		return o.MinPercentageChange.String(), nil
	case KeyMinAbsoluteChange:
		return o.MinAbsoluteChange.String(), nil
	case KeyMinPriceThreshold:
		return o.MinPriceThreshold.String(), nil
	case KeyHoursBack:
		return strconv.Itoa(o.HoursBack), nil
	case KeyMaxCards:
		return strconv.Itoa(o.MaxCards), nil
	case KeyMaxEmailsPerHour:
		return strconv.Itoa(o.MaxEmailsPerHour), nil
	case KeyEmailEnabled:
		return strconv.FormatBool(o.EmailEnabled), nil
	case KeyNotificationAddress:
		return o.NotificationAddress, nil
	case KeyChangeThresholdMode:
		return string(o.ThresholdMode), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// DetectorParams converts the options into a detection pass configuration.
func (o Options) DetectorParams() trend.Params {
	return trend.Params{
		MinPercentChange:  o.MinPercentageChange,
		MinAbsoluteChange: o.MinAbsoluteChange,
		MinPriceFloor:     o.MinPriceThreshold,
		HoursBack:         o.HoursBack,
		MaxResults:        o.MaxCards,
		Mode:              o.ThresholdMode,
	}
}

// Load overlays persisted overrides onto the base options. Entries that fail
// to apply are skipped and reported joined, so one bad row cannot take the
// monitor down.
func Load(ctx context.Context, store OptionStore, base Options) (Options, error) {
	if store == nil {
		return base, nil
	}

	stored, err := store.ListOptions(ctx)
	if err != nil {
		return base, fmt.Errorf("list persisted options: %w", err)
	}

	opts := base
	var applyErrs []error
	for _, key := range Keys {
		value, ok := stored[key]
		if !ok {
			continue
		}
		if err := opts.Apply(key, value); err != nil {
			applyErrs = append(applyErrs, err)
		}
	}
	return opts, errors.Join(applyErrs...)
}

// Set validates an update against the current options and persists it.
func Set(ctx context.Context, store OptionStore, current Options, key, value string) error {
	if err := current.Apply(key, value); err != nil {
		return err
	}
	if err := store.SetOption(ctx, key, value); err != nil {
		return fmt.Errorf("persist option %s: %w", key, err)
	}
	return nil
}

func parseNonNegativeDecimal(key, value string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be numeric, got %q", ErrInvalidValue, key, value)
	}
	if parsed.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s cannot be negative", ErrInvalidValue, key)
	}
	return parsed, nil
}

func parsePositiveInt(key, value string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidValue, key, value)
	}
	return parsed, nil
}
