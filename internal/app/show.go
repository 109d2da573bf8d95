package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/service"
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/storage"
)

// Show prints recent snapshots, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Alerts {
		return showAlerts(ctx, store, opts.Limit)
	}
	return showSnapshots(ctx, store, opts.Limit)
}

func showSnapshots(ctx context.Context, store storage.Store, limit int) error {
	snapshots, err := store.ListRecentSnapshots(ctx, limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tCard\tSet\tFoil\tPrice\tSource")

	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\t%s\t%s\n",
			snap.ObservedAt.UTC().Format(time.RFC3339),
			sanitizeInline(snap.Card.Name),
			snap.Card.SetCode,
			snap.Card.Foil,
			snap.Price.StringFixed(2),
			snap.Source,
		)
	}

	writer.Flush()
	return nil
}

func showAlerts(ctx context.Context, store storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tCard\tSet\tFoil\tStart\tCurrent\tChange%\tScore\tPriority\tChannels")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\t%s\t%s\t%s\t%d\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			sanitizeInline(alert.Card.Name),
			alert.Card.SetCode,
			alert.Card.Foil,
			alert.PriceStart.StringFixed(2),
			alert.PriceCurrent.StringFixed(2),
			alert.PercentChange.StringFixed(1),
			alert.Score,
			alert.Priority,
			strings.Join(alert.Channels, ","),
		)
	}

	writer.Flush()
	return nil
}

// Stats prints a summary of stored history.
func (a *App) Stats(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	counts, err := store.CountHistory(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Snapshots\t%d\n", counts.Snapshots)
	fmt.Fprintf(writer, "Tracked cards\t%d\n", counts.Cards)
	fmt.Fprintf(writer, "Alerts sent\t%d\n", counts.Alerts)
	if !counts.OldestSnapshot.IsZero() {
		fmt.Fprintf(writer, "Oldest snapshot\t%s\n", counts.OldestSnapshot.UTC().Format(time.RFC3339))
		fmt.Fprintf(writer, "Newest snapshot\t%s\n", counts.NewestSnapshot.UTC().Format(time.RFC3339))
	}
	a.writeCycleMarker(ctx, store, writer)
	writer.Flush()
	return nil
}

func (a *App) writeCycleMarker(ctx context.Context, store storage.Store, writer *tabwriter.Writer) {
	value, ok, err := store.GetOption(ctx, service.OptionLastCycleAt)
	if err != nil || !ok {
		return
	}
	last, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return
	}

	detail := ""
	trends, trendsOK, _ := store.GetOption(ctx, service.OptionLastCycleTrends)
	dispatched, dispatchedOK, _ := store.GetOption(ctx, service.OptionLastCycleDispatched)
	if trendsOK && dispatchedOK {
		detail = fmt.Sprintf(" (%s trending, %s dispatched)", trends, dispatched)
	}

	fmt.Fprintf(writer, "Last cycle\t%s%s\n", last.UTC().Format(time.RFC3339), detail)
	if interval := a.Config.Scheduler.Interval; interval > 0 {
		fmt.Fprintf(writer, "Next cycle\t%s\n", last.Add(interval).UTC().Format(time.RFC3339))
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
