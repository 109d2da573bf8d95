package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

const sqliteSchemaVersion = 1

// timeLayout is fixed-width so lexicographic ORDER BY on the stored
// text matches chronological order. RFC3339Nano would trim trailing
// zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite persists snapshots, alerts, and options in a local database file.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger

	// SQLite has no advisory locks, so cycle exclusion is in-process only.
	cycleMu sync.Mutex
}

// OpenSQLite opens (and if needed creates) the database file and migrates the schema.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLite, error) {
	parentDir := filepath.Dir(path)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrateSQLiteSchema(ctx, db, path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{
		db:     db,
		logger: logging.Component(logger, "storage_sqlite"),
	}, nil
}

func migrateSQLiteSchema(ctx context.Context, db *sql.DB, path string) error {
	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	var currentVersion int
	if err == sql.ErrNoRows {
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	} else {
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&currentVersion)
		if err == sql.ErrNoRows {
			currentVersion = 0
		} else if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	if currentVersion > sqliteSchemaVersion {
		return fmt.Errorf(
			"database schema version %d is newer than this build supports (max: %d); upgrade mtg-spectr or delete %s to start fresh",
			currentVersion, sqliteSchemaVersion, path,
		)
	}

	if currentVersion < sqliteSchemaVersion {
		if err := applySQLiteMigrations(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
	}

	return nil
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, fromVersion int) error {
	if fromVersion == 0 {
		if err := migrateSQLiteV0ToV1(ctx, db); err != nil {
			return fmt.Errorf("migration v0→v1: %w", err)
		}
	}
	return nil
}

func migrateSQLiteV0ToV1(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (1)")
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS price_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_name TEXT NOT NULL,
			set_code TEXT NOT NULL,
			is_foil INTEGER NOT NULL DEFAULT 0,
			price TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'feed',
			observed_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (card_name, set_code, is_foil, observed_at)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating price_snapshots table: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trend_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_name TEXT NOT NULL,
			set_code TEXT NOT NULL,
			is_foil INTEGER NOT NULL DEFAULT 0,
			price_start TEXT NOT NULL,
			price_current TEXT NOT NULL,
			percent_change TEXT NOT NULL,
			absolute_change TEXT NOT NULL,
			score INTEGER NOT NULL,
			priority TEXT NOT NULL,
			channels TEXT NOT NULL DEFAULT '',
			detected_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating trend_alerts table: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS monitoring_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating monitoring_config table: %w", err)
	}

	_, err = tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_observed ON price_snapshots(observed_at)")
	if err != nil {
		return fmt.Errorf("creating idx_snapshots_observed: %w", err)
	}

	_, err = tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_card ON price_snapshots(card_name, set_code, is_foil)")
	if err != nil {
		return fmt.Errorf("creating idx_snapshots_card: %w", err)
	}

	_, err = tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_alerts_created ON trend_alerts(created_at)")
	if err != nil {
		return fmt.Errorf("creating idx_alerts_created: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close closes the database file.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing sqlite database")
	}
}

func (s *SQLite) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// TryAdvisoryLock takes an in-process lock. The key is accepted for
// interface parity with postgres but carries no meaning here.
func (s *SQLite) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if _, err := s.getDB(); err != nil {
		return nil, false, err
	}
	if !s.cycleMu.TryLock() {
		return nil, false, nil
	}
	return s.cycleMu.Unlock, true, nil
}

// InsertSnapshots persists a batch in one transaction, overwriting
// duplicates of the same card and timestamp.
func (s *SQLite) InsertSnapshots(ctx context.Context, snapshots []card.PriceSnapshot) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert snapshots: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_snapshots (card_name, set_code, is_foil, price, source, observed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (card_name, set_code, is_foil, observed_at) DO UPDATE
			SET price = excluded.price,
			    source = excluded.source
		`,
			snap.Card.Name,
			snap.Card.SetCode,
			boolToInt(snap.Card.Foil),
			snap.Price.String(),
			snap.Source,
			snap.ObservedAt.UTC().Format(timeLayout),
			now,
		); err != nil {
			return 0, fmt.Errorf("insert snapshot for %s: %w", snap.Card, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert snapshots: %w", err)
	}
	return len(snapshots), nil
}

// QueryRange lists snapshots within a time window, both bounds inclusive.
func (s *SQLite) QueryRange(ctx context.Context, from, to time.Time) ([]card.PriceSnapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, `
		SELECT card_name, set_code, is_foil, price, source, observed_at
		FROM price_snapshots
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id
	`,
		from.UTC().Format(timeLayout),
		to.UTC().Format(timeLayout),
	)
	if queryErr != nil {
		return nil, fmt.Errorf("query snapshot range: %w", queryErr)
	}
	defer rows.Close()

	return collectSQLiteSnapshots(rows)
}

// PriceHistory lists snapshots for one card variant within a window.
func (s *SQLite) PriceHistory(ctx context.Context, id card.Identity, from, to time.Time) ([]card.PriceSnapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, `
		SELECT card_name, set_code, is_foil, price, source, observed_at
		FROM price_snapshots
		WHERE card_name = ? AND set_code = ? AND is_foil = ?
		  AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id
	`,
		id.Name,
		id.SetCode,
		boolToInt(id.Foil),
		from.UTC().Format(timeLayout),
		to.UTC().Format(timeLayout),
	)
	if queryErr != nil {
		return nil, fmt.Errorf("query price history: %w", queryErr)
	}
	defer rows.Close()

	return collectSQLiteSnapshots(rows)
}

// ListRecentSnapshots lists the newest snapshots first.
func (s *SQLite) ListRecentSnapshots(ctx context.Context, limit int) ([]card.PriceSnapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, `
		SELECT card_name, set_code, is_foil, price, source, observed_at
		FROM price_snapshots
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSQLiteSnapshots(rows)
}

// DeleteSnapshotsBefore deletes snapshots older than the cutoff.
func (s *SQLite) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, execErr := db.ExecContext(ctx,
		"DELETE FROM price_snapshots WHERE observed_at < ?",
		olderThan.UTC().Format(timeLayout),
	)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// InsertAlert persists an alert emission.
func (s *SQLite) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, err
	}

	createdAt := time.Now().UTC()
	res, execErr := db.ExecContext(ctx, `
		INSERT INTO trend_alerts (
			card_name, set_code, is_foil,
			price_start, price_current, percent_change, absolute_change,
			score, priority, channels, detected_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.Card.Name,
		alert.Card.SetCode,
		boolToInt(alert.Card.Foil),
		alert.PriceStart.String(),
		alert.PriceCurrent.String(),
		alert.PercentChange.String(),
		alert.AbsoluteChange.String(),
		alert.Score,
		alert.Priority,
		strings.Join(alert.Channels, ","),
		alert.DetectedAt.UTC().Format(timeLayout),
		createdAt.Format(timeLayout),
	)
	if execErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", execErr)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return AlertRecord{}, err
	}

	rec := alert
	rec.ID = id
	rec.CreatedAt = createdAt
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLite) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, `
		SELECT id, card_name, set_code, is_foil,
		       price_start, price_current, percent_change, absolute_change,
		       score, priority, channels, detected_at, created_at
		FROM trend_alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSQLiteAlert(rows)
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
func (s *SQLite) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, execErr := db.ExecContext(ctx,
		"DELETE FROM trend_alerts WHERE created_at < ?",
		olderThan.UTC().Format(timeLayout),
	)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// GetOption reads one persisted option.
func (s *SQLite) GetOption(ctx context.Context, key string) (string, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return "", false, err
	}

	var value string
	scanErr := db.QueryRowContext(ctx,
		"SELECT value FROM monitoring_config WHERE key = ?", key).Scan(&value)
	if scanErr == sql.ErrNoRows {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, fmt.Errorf("get option %s: %w", key, scanErr)
	}
	return value, true, nil
}

// SetOption upserts one persisted option.
func (s *SQLite) SetOption(ctx context.Context, key, value string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, execErr := db.ExecContext(ctx, `
		INSERT INTO monitoring_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value,
		    updated_at = excluded.updated_at
	`,
		key, value, time.Now().UTC().Format(timeLayout),
	); execErr != nil {
		return fmt.Errorf("set option %s: %w", key, execErr)
	}
	return nil
}

// ListOptions returns all persisted options.
func (s *SQLite) ListOptions(ctx context.Context) (map[string]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.QueryContext(ctx, "SELECT key, value FROM monitoring_config")
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
func (s *SQLite) CountHistory(ctx context.Context) (Counts, error) {
	db, err := s.getDB()
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	var oldest, newest sql.NullString
	if scanErr := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM price_snapshots),
			(SELECT COUNT(*) FROM (SELECT DISTINCT card_name, set_code, is_foil FROM price_snapshots)),
			(SELECT COUNT(*) FROM trend_alerts),
			(SELECT MIN(observed_at) FROM price_snapshots),
			(SELECT MAX(observed_at) FROM price_snapshots)
	`).Scan(
		&counts.Snapshots,
		&counts.Cards,
		&counts.Alerts,
		&oldest,
		&newest,
	); scanErr != nil {
		return Counts{}, fmt.Errorf("count history: %w", scanErr)
	}

	if oldest.Valid {
		ts, parseErr := time.Parse(timeLayout, oldest.String)
		if parseErr != nil {
			return Counts{}, fmt.Errorf("parse oldest snapshot time: %w", parseErr)
		}
		counts.OldestSnapshot = ts
	}
	if newest.Valid {
		ts, parseErr := time.Parse(timeLayout, newest.String)
		if parseErr != nil {
			return Counts{}, fmt.Errorf("parse newest snapshot time: %w", parseErr)
		}
		counts.NewestSnapshot = ts
	}
	return counts, nil
}

func collectSQLiteSnapshots(rows *sql.Rows) ([]card.PriceSnapshot, error) {
	snapshots := make([]card.PriceSnapshot, 0)
	for rows.Next() {
		var (
			snap     card.PriceSnapshot
			foil     int
			priceStr string
			observed string
		)
		if err := rows.Scan(
			&snap.Card.Name,
			&snap.Card.SetCode,
			&foil,
			&priceStr,
			&snap.Source,
			&observed,
		); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot price: %w", err)
		}
		ts, err := time.Parse(timeLayout, observed)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot time: %w", err)
		}

		snap.Card.Foil = foil != 0
		snap.Price = price
		snap.ObservedAt = ts
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSQLiteAlert(rows *sql.Rows) (AlertRecord, error) {
	var (
		rec         AlertRecord
		foil        int
		startStr    string
		currentStr  string
		percentStr  string
		absoluteStr string
		channels    string
		detected    string
		created     string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Card.Name,
		&rec.Card.SetCode,
		&foil,
		&startStr,
		&currentStr,
		&percentStr,
		&absoluteStr,
		&rec.Score,
		&rec.Priority,
		&channels,
		&detected,
		&created,
	); err != nil {
		return AlertRecord{}, err
	}

	rec.Card.Foil = foil != 0
	if channels != "" {
		rec.Channels = strings.Split(channels, ",")
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

	rec.DetectedAt, convErr = time.Parse(timeLayout, detected)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse detected time: %w", convErr)
	}
	rec.CreatedAt, convErr = time.Parse(timeLayout, created)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse created time: %w", convErr)
	}

	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLite)(nil)
