package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/config"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

const (
	createSnapshotsTableSQL = `CREATE TABLE IF NOT EXISTS price_snapshots (
        id BIGSERIAL PRIMARY KEY,
        card_name TEXT NOT NULL,
        set_code TEXT NOT NULL,
        is_foil BOOLEAN NOT NULL DEFAULT FALSE,
        price TEXT NOT NULL,
        source TEXT NOT NULL DEFAULT 'feed',
        observed_at TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (card_name, set_code, is_foil, observed_at)
    );`

	createSnapshotIndexSQL = `CREATE INDEX IF NOT EXISTS idx_snapshots_observed
        ON price_snapshots (observed_at);`

	createSnapshotCardIndexSQL = `CREATE INDEX IF NOT EXISTS idx_snapshots_card
        ON price_snapshots (card_name, set_code, is_foil);`

	createAlertsTableSQL = `CREATE TABLE IF NOT EXISTS trend_alerts (
        id BIGSERIAL PRIMARY KEY,
        card_name TEXT NOT NULL,
        set_code TEXT NOT NULL,
        is_foil BOOLEAN NOT NULL DEFAULT FALSE,
        price_start TEXT NOT NULL,
        price_current TEXT NOT NULL,
        percent_change TEXT NOT NULL,
        absolute_change TEXT NOT NULL,
        score INT NOT NULL,
        priority TEXT NOT NULL,
        channels TEXT[] NOT NULL DEFAULT '{}',
        detected_at TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createAlertIndexSQL = `CREATE INDEX IF NOT EXISTS idx_alerts_created
        ON trend_alerts (created_at);`

	createOptionsTableSQL = `CREATE TABLE IF NOT EXISTS monitoring_config (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        card_name, set_code, is_foil, price, source, observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (card_name, set_code, is_foil, observed_at) DO UPDATE
    SET price = EXCLUDED.price,
        source = EXCLUDED.source;`

	queryRangeSQL = `SELECT
        card_name, set_code, is_foil, price, source, observed_at
    FROM price_snapshots
    WHERE observed_at >= $1
      AND observed_at <= $2
    ORDER BY observed_at, id;`

	priceHistorySQL = `SELECT
        card_name, set_code, is_foil, price, source, observed_at
    FROM price_snapshots
    WHERE card_name = $1
      AND set_code = $2
      AND is_foil = $3
      AND observed_at >= $4
      AND observed_at <= $5
    ORDER BY observed_at, id;`

	listRecentSnapshotsSQL = `SELECT
        card_name, set_code, is_foil, price, source, observed_at
    FROM price_snapshots
    ORDER BY observed_at DESC, id DESC
    LIMIT $1;`

	deleteSnapshotsBeforeSQL = `DELETE FROM price_snapshots WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO trend_alerts (
        card_name, set_code, is_foil,
        price_start, price_current, percent_change, absolute_change,
        score, priority, channels, detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, card_name, set_code, is_foil,
        price_start, price_current, percent_change, absolute_change,
        score, priority, channels, detected_at, created_at
    FROM trend_alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM trend_alerts WHERE created_at < $1;`

	getOptionSQL    = `SELECT value FROM monitoring_config WHERE key = $1;`
	listOptionsSQL  = `SELECT key, value FROM monitoring_config;`
	upsertOptionSQL = `INSERT INTO monitoring_config (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value,
        updated_at = now();`

	countHistorySQL = `SELECT
        (SELECT COUNT(*) FROM price_snapshots),
        (SELECT COUNT(DISTINCT (card_name, set_code, is_foil)) FROM price_snapshots),
        (SELECT COUNT(*) FROM trend_alerts),
        (SELECT MIN(observed_at) FROM price_snapshots),
        (SELECT MAX(observed_at) FROM price_snapshots);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres persists snapshots, alerts, and options through a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects a pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	store := &Postgres{
		pool:   pool,
		logger: logging.Component(logger, "storage_postgres"),
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	statements := []string{
		createSnapshotsTableSQL,
		createSnapshotIndexSQL,
		createSnapshotCardIndexSQL,
		createAlertsTableSQL,
		createAlertIndexSQL,
		createOptionsTableSQL,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSnapshots persists a batch of snapshots in one transaction,
// overwriting duplicates of the same card and timestamp.
func (s *Postgres) InsertSnapshots(ctx context.Context, snapshots []card.PriceSnapshot) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert snapshots: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, snap := range snapshots {
		if _, err := tx.Exec(ctx, upsertSnapshotSQL,
			snap.Card.Name,
			snap.Card.SetCode,
			snap.Card.Foil,
			snap.Price.String(),
			snap.Source,
			snap.ObservedAt,
		); err != nil {
			return 0, fmt.Errorf("insert snapshot for %s: %w", snap.Card, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert snapshots: %w", err)
	}
	return len(snapshots), nil
}

// QueryRange lists snapshots within a time window, both bounds inclusive.
func (s *Postgres) QueryRange(ctx context.Context, from, to time.Time) ([]card.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, queryRangeSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("query snapshot range: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// PriceHistory lists snapshots for one card variant within a window.
func (s *Postgres) PriceHistory(ctx context.Context, id card.Identity, from, to time.Time) ([]card.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, priceHistorySQL, id.Name, id.SetCode, id.Foil, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("query price history: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the newest snapshots first.
func (s *Postgres) ListRecentSnapshots(ctx context.Context, limit int) ([]card.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// DeleteSnapshotsBefore deletes snapshots older than the cutoff.
func (s *Postgres) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Postgres) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Card.Name,
		alert.Card.SetCode,
		alert.Card.Foil,
		alert.PriceStart.String(),
		alert.PriceCurrent.String(),
		alert.PercentChange.String(),
		alert.AbsoluteChange.String(),
		alert.Score,
		alert.Priority,
		alert.Channels,
		alert.DetectedAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Postgres) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Postgres) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// GetOption reads one persisted option.
func (s *Postgres) GetOption(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}

	var value string
	scanErr := pool.QueryRow(ctx, getOptionSQL, key).Scan(&value)
	if scanErr == pgx.ErrNoRows {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, fmt.Errorf("get option %s: %w", key, scanErr)
	}
	return value, true, nil
}

// SetOption upserts one persisted option.
func (s *Postgres) SetOption(ctx context.Context, key, value string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertOptionSQL, key, value); execErr != nil {
		return fmt.Errorf("set option %s: %w", key, execErr)
	}
	return nil
}

// ListOptions returns all persisted options.
func (s *Postgres) ListOptions(ctx context.Context) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOptionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list options: %w", queryErr)
	}
	defer rows.Close()

	options := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		options[key] = value
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return options, nil
}

// CountHistory summarises stored history.
func (s *Postgres) CountHistory(ctx context.Context) (Counts, error) {
	pool, err := s.getPool()
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	var oldest, newest sql.NullTime
	if scanErr := pool.QueryRow(ctx, countHistorySQL).Scan(
		&counts.Snapshots,
		&counts.Cards,
		&counts.Alerts,
		&oldest,
		&newest,
	); scanErr != nil {
		return Counts{}, fmt.Errorf("count history: %w", scanErr)
	}
	if oldest.Valid {
		counts.OldestSnapshot = oldest.Time
	}
	if newest.Valid {
		counts.NewestSnapshot = newest.Time
	}
	return counts, nil
}

func collectSnapshots(rows pgx.Rows) ([]card.PriceSnapshot, error) {
	snapshots := make([]card.PriceSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSnapshot(rows pgx.Rows) (card.PriceSnapshot, error) {
	var (
		snap     card.PriceSnapshot
		priceStr string
	)
	if err := rows.Scan(
		&snap.Card.Name,
		&snap.Card.SetCode,
		&snap.Card.Foil,
		&priceStr,
		&snap.Source,
		&snap.ObservedAt,
	); err != nil {
		return card.PriceSnapshot{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return card.PriceSnapshot{}, fmt.Errorf("parse snapshot price: %w", err)
	}
	snap.Price = price
	return snap, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec         AlertRecord
		startStr    string
		currentStr  string
		percentStr  string
		absoluteStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Card.Name,
		&rec.Card.SetCode,
		&rec.Card.Foil,
		&startStr,
		&currentStr,
		&percentStr,
		&absoluteStr,
		&rec.Score,
		&rec.Priority,
		&rec.Channels,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.PriceStart, convErr = decimal.NewFromString(startStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price start: %w", convErr)
	}
	rec.PriceCurrent, convErr = decimal.NewFromString(currentStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price current: %w", convErr)
	}
	rec.PercentChange, convErr = decimal.NewFromString(percentStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse percent change: %w", convErr)
	}
	rec.AbsoluteChange, convErr = decimal.NewFromString(absoluteStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse absolute change: %w", convErr)
	}

	return rec, nil
}

var _ Store = (*Postgres)(nil)
