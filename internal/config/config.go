package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the snapshot store backend.
type DatabaseConfig struct {
	// Driver is either "sqlite" (default, embedded) or "postgres".
	Driver string `mapstructure:"driver"`
	// DSN connects the postgres driver.
	DSN string `mapstructure:"dsn"`
	// Path locates the sqlite file; empty means ~/.mtg-spectr/trends.db.
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig covers the optional Redis suppression index.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig governs detection cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	// RunOnStart triggers an immediate cycle instead of waiting out the
	// first interval.
	RunOnStart bool `mapstructure:"run_on_start"`
}

// DetectorConfig holds the trend thresholds. These seed the runtime-tunable
// options and can be overridden through the config command.
type DetectorConfig struct {
	MinPercentageChange float64 `mapstructure:"min_percentage_change"`
	MinAbsoluteChange   float64 `mapstructure:"min_absolute_change"`
	MinPriceThreshold   float64 `mapstructure:"min_price_threshold"`
	HoursBack           int     `mapstructure:"hours_back"`
	MaxCards            int     `mapstructure:"max_cards"`
	ChangeThresholdMode string  `mapstructure:"change_threshold_mode"`
}

// AlertingConfig defines dispatch limits and routing.
type AlertingConfig struct {
	MaxEmailsPerHour  int           `mapstructure:"max_emails_per_hour"`
	MaxEmailsPerDay   int           `mapstructure:"max_emails_per_day"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	QuietHoursEnabled bool          `mapstructure:"quiet_hours_enabled"`
	QuietHoursStart   int           `mapstructure:"quiet_hours_start"`
	QuietHoursEnd     int           `mapstructure:"quiet_hours_end"`

	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig carries SMTP delivery settings.
type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       string        `mapstructure:"to"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RetentionConfig bounds how long history is kept. Zero disables a sweep.
type RetentionConfig struct {
	SnapshotDays int `mapstructure:"snapshot_days"`
	AlertDays    int `mapstructure:"alert_days"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults. A .env
// file in the working directory is folded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MTGSPECTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mtg-spectr")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "mtgspectr:")

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6D746753))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("detector.min_percentage_change", 20.0)
	v.SetDefault("detector.min_absolute_change", 0.50)
	v.SetDefault("detector.min_price_threshold", 0.50)
	v.SetDefault("detector.hours_back", 24)
	v.SetDefault("detector.max_cards", 1000)
	v.SetDefault("detector.change_threshold_mode", "any")

	v.SetDefault("alerting.max_emails_per_hour", 1)
	v.SetDefault("alerting.max_emails_per_day", 0)
	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.quiet_hours_enabled", false)
	v.SetDefault("alerting.quiet_hours_start", 22)
	v.SetDefault("alerting.quiet_hours_end", 8)

	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.host", "smtp.gmail.com")
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.timeout", "15s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("retention.snapshot_days", 30)
	v.SetDefault("retention.alert_days", 30)

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Detector.MinPercentageChange < 0 {
		return fmt.Errorf("detector.min_percentage_change cannot be negative")
	}
	if c.Detector.MinAbsoluteChange < 0 {
		return fmt.Errorf("detector.min_absolute_change cannot be negative")
	}
	if c.Detector.HoursBack <= 0 {
		return fmt.Errorf("detector.hours_back must be greater than zero")
	}
	if c.Detector.MaxCards <= 0 {
		return fmt.Errorf("detector.max_cards must be greater than zero")
	}
	if _, err := trend.ParseThresholdMode(c.Detector.ChangeThresholdMode); err != nil {
		return fmt.Errorf("detector.change_threshold_mode: %w", err)
	}
	if c.Alerting.MaxEmailsPerHour < 0 {
		return fmt.Errorf("alerting.max_emails_per_hour cannot be negative")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.QuietHoursStart < 0 || c.Alerting.QuietHoursStart > 23 {
		return fmt.Errorf("alerting.quiet_hours_start must be an hour of day")
	}
	if c.Alerting.QuietHoursEnd < 0 || c.Alerting.QuietHoursEnd > 23 {
		return fmt.Errorf("alerting.quiet_hours_end must be an hour of day")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.From == "" {
			return fmt.Errorf("alerting.email.from is required when email is enabled")
		}
		if c.Alerting.Email.To == "" {
			return fmt.Errorf("alerting.email.to is required when email is enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when the redis cache is enabled")
	}
	if c.Retention.SnapshotDays < 0 || c.Retention.AlertDays < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
