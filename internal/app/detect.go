package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Detect runs one detection cycle immediately and prints each trending card
// with its dispatch result.
func (a *App) Detect(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, closeIndex, err := a.buildService(ctx, nil, store)
	if err != nil {
		return err
	}
	if closeIndex != nil {
		defer closeIndex()
	}

	report, err := svc.RunDetectionCycle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Fprintln(os.Stdout, "cycle skipped: another instance is running")
		return nil
	}
	if len(report.Outcomes) == 0 {
		fmt.Fprintln(os.Stdout, "no trending cards found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Card\tSet\tFoil\tStart\tCurrent\tChange%\tChange$\tScore\tPriority\tDispatched")

	for _, outcome := range report.Outcomes {
		event := outcome.Event
		fmt.Fprintf(
			writer,
			"%s\t%s\t%t\t%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
			event.Card.Name,
			event.Card.SetCode,
			event.Card.Foil,
			event.PriceStart.StringFixed(2),
			event.PriceCurrent.StringFixed(2),
			event.PercentChange.StringFixed(1),
			event.AbsoluteChange.StringFixed(2),
			outcome.Score,
			outcome.Priority,
			outcome.Dispatched,
		)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "\n%d trending, %d dispatched\n", len(report.Outcomes), report.Dispatched)
	return nil
}
