package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/settings"
)

// ConfigList prints the effective runtime options, config defaults overlaid
// with persisted overrides.
func (a *App) ConfigList(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opts, err := settings.Load(ctx, store, settings.FromConfig(a.Config))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("some persisted overrides were skipped")
	}

	overrides, err := store.ListOptions(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tValue\tOrigin")
	for _, key := range settings.Keys {
		value, valueErr := opts.Value(key)
		if valueErr != nil {
			continue
		}
		origin := "config"
		if _, ok := overrides[key]; ok {
			origin = "override"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", key, value, origin)
	}
	writer.Flush()
	return nil
}

// ConfigGet prints one effective option value.
func (a *App) ConfigGet(ctx context.Context, key string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opts, err := settings.Load(ctx, store, settings.FromConfig(a.Config))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("some persisted overrides were skipped")
	}

	value, err := opts.Value(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, value)
	return nil
}

// ConfigSet validates and persists one runtime option override. It takes
// effect on the next detection cycle without a restart.
func (a *App) ConfigSet(ctx context.Context, key, value string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	current, err := settings.Load(ctx, store, settings.FromConfig(a.Config))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("some persisted overrides were skipped")
	}

	if err := settings.Set(ctx, store, current, key, value); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s = %s\n", key, value)
	return nil
}
