package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
)

var (
	// ErrNotConfigured indicates the backend handle was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// SnapshotStore defines operations for price snapshot persistence. Query
// results come back in ascending timestamp order, insertion order breaking
// timestamp ties.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, snapshots []card.PriceSnapshot) (int, error)
	QueryRange(ctx context.Context, from, to time.Time) ([]card.PriceSnapshot, error)
	PriceHistory(ctx context.Context, id card.Identity, from, to time.Time) ([]card.PriceSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]card.PriceSnapshot, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// OptionStore persists runtime option overrides.
type OptionStore interface {
	GetOption(ctx context.Context, key string) (string, bool, error)
	SetOption(ctx context.Context, key, value string) error
	ListOptions(ctx context.Context) (map[string]string, error)
}

// AdvisoryLocker exposes advisory lock helpers used to fence overlapping
// detection cycles.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates every persistence concern behind one handle.
type Store interface {
	SnapshotStore
	AlertStore
	OptionStore
	AdvisoryLocker

	CountHistory(ctx context.Context) (Counts, error)
	Close()
}

// Open selects and initialises a backend from configuration. The sqlite
// backend is the default and needs no external service.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path, err := resolveSQLitePath(cfg.Path)
		if err != nil {
			return nil, err
		}
		store, err := OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func resolveSQLitePath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mtg-spectr", "trends.db"), nil
}
