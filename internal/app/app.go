package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/alerting"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/cache"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/scheduler"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/service"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/storage"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/trend"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newChannels() ([]alerting.Channel, error) {
	var channels []alerting.Channel

	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		email, err := alerting.NewEmailChannel(alerting.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			To:       cfg.To,
			Timeout:  cfg.Timeout,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramChannel(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}

	return channels, nil
}

func (a *App) newSuppressionIndex(ctx context.Context) (alerting.SuppressionIndex, func(), error) {
	if !a.Config.Cache.Enabled {
		return cache.NewMemory(), nil, nil
	}

	redis, err := cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     a.Config.Cache.Addr,
		Password: a.Config.Cache.Password,
		DB:       a.Config.Cache.DB,
		Prefix:   a.Config.Cache.Prefix,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return redis, func() { _ = redis.Close() }, nil
}

// buildService assembles the detector and alert pipeline around a store.
func (a *App) buildService(ctx context.Context, sched *scheduler.Scheduler, store storage.Store) (*service.Service, func(), error) {
	channels, err := a.newChannels()
	if err != nil {
		return nil, nil, err
	}

	index, closeIndex, err := a.newSuppressionIndex(ctx)
	if err != nil {
		return nil, nil, err
	}

	detector := trend.NewDetector(store, a.Logger)
	limiter := alerting.NewRateLimiter(a.Config.Alerting.MaxEmailsPerHour, a.Config.Alerting.MaxEmailsPerDay)
	suppressor := alerting.NewSuppressor(index, alerting.SuppressorOptions{
		Cooldown:     a.Config.Alerting.Cooldown,
		QuietEnabled: a.Config.Alerting.QuietHoursEnabled,
		QuietStart:   a.Config.Alerting.QuietHoursStart,
		QuietEnd:     a.Config.Alerting.QuietHoursEnd,
	}, a.Logger)
	pipeline := alerting.NewPipeline(limiter, suppressor, channels, a.Logger)

	svc := service.New(a.Config, sched, store, detector, pipeline, limiter, a.Logger)
	return svc, closeIndex, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, closeIndex, err := a.buildService(ctx, sched, store)
	if err != nil {
		return err
	}
	if closeIndex != nil {
		defer closeIndex()
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a card's price history.
type ExportOptions struct {
	CardName  string
	SetCode   string
	Foil      bool
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// ImportOptions configure the snapshot feed import.
type ImportOptions struct {
	Path   string
	Source string
	DryRun bool
}
