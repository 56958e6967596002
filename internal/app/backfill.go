package app

import (
	"context"
	"errors"
	"time"

	"fxtriangle/internal/engine"
	"fxtriangle/internal/storage"
)

// Backfill acquires and computes every date in [from, to].
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from, to := storage.DateOnly(opts.From), storage.DateOnly(opts.To)
	if to.Before(from) {
		return errors.New("backfill range is empty, check --from/--to")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = a.Config.Pipeline.Workers
	}

	b, err := a.openBackend(ctx, !opts.DryRun)
	if err != nil {
		return err
	}
	defer b.Close()

	dates := engine.DateRange(from, to)
	if opts.MissingOnly {
		dates, err = engine.New(nil, b.store, b.locker, engine.Options{}, a.Logger).MissingDates(ctx, from, to)
		if err != nil {
			return err
		}
	}
	if len(dates) == 0 {
		a.Logger.Info().Msg("nothing to backfill")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: results are kept in memory and not persisted")
		b = dryRunBackend(b)
	}

	manager, err := a.newManager(b.store)
	if err != nil {
		return err
	}
	notifier := a.newNotifier()
	if opts.DryRun {
		notifier = nil
	}
	eng := a.newEngine(manager, b, notifier)

	a.Logger.Info().
		Str("from", from.Format(time.DateOnly)).
		Str("to", to.Format(time.DateOnly)).
		Int("dates", len(dates)).
		Int("workers", workers).
		Msg("backfill started")

	results, err := eng.Batch(ctx, dates, engine.BatchOptions{Workers: workers})
	if err != nil {
		return err
	}
	a.printResults(results)
	return a.summarize("backfill", results)
}

// dryRunBackend layers a memory store over the real one. Every date reads
// its previous row through to stored history, and nothing is written back.
func dryRunBackend(b *backend) *backend {
	return &backend{store: storage.NewOverlayStore(b.store), locker: storage.NewMemoryLocker()}
}
