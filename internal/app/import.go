package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/card"
)

// Import 从 CSV/JSON 价格 feed 文件导入历史快照。
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	if opts.Path == "" {
		return errors.New("--file must be provided")
	}

	snapshots, skipped, err := a.readFeedFile(opts.Path, opts.Source)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return errors.New("feed 文件没有可用的行")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("导入 dry-run：不会写入数据库")
		a.Logger.Info().Int("parsed", len(snapshots)).Int("skipped", skipped).Msg("dry-run 解析完成")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	inserted, err := store.InsertSnapshots(ctx, snapshots)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("imported", inserted).Int("skipped", skipped).Msg("导入完成")
	if skipped > 0 {
		return fmt.Errorf("%d 行解析失败，请检查日志", skipped)
	}
	return nil
}

func (a *App) readFeedFile(path, defaultSource string) ([]card.PriceSnapshot, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return a.readCSVFeed(path, defaultSource)
	case ".json":
		return readJSONFeed(path, defaultSource)
	default:
		return nil, 0, fmt.Errorf("unsupported feed format %q (want .csv or .json)", filepath.Ext(path))
	}
}

func (a *App) readCSVFeed(path, defaultSource string) ([]card.PriceSnapshot, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read feed header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"card_name", "set_code", "price", "observed_at"} {
		if _, ok := index[required]; !ok {
			return nil, 0, fmt.Errorf("feed header missing %q column", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var snapshots []card.PriceSnapshot
	skipped := 0
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			a.Logger.Error().Err(err).Int("line", line).Msg("skipping malformed feed row")
			skipped++
			continue
		}

		snap, err := buildSnapshot(
			field(row, "card_name"),
			field(row, "set_code"),
			field(row, "is_foil"),
			field(row, "price"),
			field(row, "observed_at"),
			field(row, "source"),
			defaultSource,
		)
		if err != nil {
			a.Logger.Error().Err(err).Int("line", line).Msg("skipping invalid feed row")
			skipped++
			continue
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, skipped, nil
}

type jsonFeedRow struct {
	CardName   string      `json:"card_name"`
	SetCode    string      `json:"set_code"`
	IsFoil     bool        `json:"is_foil"`
	Price      json.Number `json:"price"`
	ObservedAt time.Time   `json:"observed_at"`
	Source     string      `json:"source"`
}

func readJSONFeed(path, defaultSource string) ([]card.PriceSnapshot, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	var rows []jsonFeedRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("parse feed json: %w", err)
	}

	snapshots := make([]card.PriceSnapshot, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Price.String())
		if err != nil || row.CardName == "" || row.SetCode == "" || row.ObservedAt.IsZero() {
			skipped++
			continue
		}
		source := row.Source
		if source == "" {
			source = defaultSource
		}
		if source == "" {
			source = "import"
		}
		snapshots = append(snapshots, card.PriceSnapshot{
			Card:       card.Identity{Name: row.CardName, SetCode: row.SetCode, Foil: row.IsFoil},
			Price:      price,
			Source:     source,
			ObservedAt: row.ObservedAt.UTC(),
		})
	}

	return snapshots, skipped, nil
}

func buildSnapshot(name, set, foil, price, observed, source, defaultSource string) (card.PriceSnapshot, error) {
	if name == "" || set == "" {
		return card.PriceSnapshot{}, errors.New("card_name and set_code are required")
	}

	isFoil := false
	if foil != "" {
		parsed, err := strconv.ParseBool(foil)
		if err != nil {
			return card.PriceSnapshot{}, fmt.Errorf("invalid is_foil %q: %w", foil, err)
		}
		isFoil = parsed
	}

	value, err := decimal.NewFromString(price)
	if err != nil {
		return card.PriceSnapshot{}, fmt.Errorf("invalid price %q: %w", price, err)
	}

	at, err := time.Parse(time.RFC3339, observed)
	if err != nil {
		return card.PriceSnapshot{}, fmt.Errorf("invalid observed_at %q: %w", observed, err)
	}

	if source == "" {
		source = defaultSource
	}
	if source == "" {
		source = "import"
	}

	return card.PriceSnapshot{
		Card:       card.Identity{Name: name, SetCode: set, Foil: isFoil},
		Price:      value,
		Source:     source,
		ObservedAt: at.UTC(),
	}, nil
}
