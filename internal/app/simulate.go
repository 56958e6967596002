package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/alerting"
	"fxtriangle/internal/engine"
	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
	"fxtriangle/internal/storage"
)

// SimulatedQuote is one day fed to Simulate.
type SimulatedQuote struct {
	Date     time.Time
	BasisToA decimal.Decimal
	BasisToB decimal.Decimal
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	Basis  parity.Basis
	Quotes []SimulatedQuote
}

// Simulate runs the full pipeline over the given quotes with an in-memory store.
// Alerts go to the configured channel, or to the log when none is set.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Quotes) == 0 {
		return errors.New("simulate needs at least one quote")
	}
	basis := opts.Basis
	if basis == "" {
		basis = a.Config.Basis()
	}

	quotes := make(map[string]provider.Quote, len(opts.Quotes))
	dates := make([]time.Time, 0, len(opts.Quotes))
	for _, q := range opts.Quotes {
		date := storage.DateOnly(q.Date)
		quotes[date.Format(time.DateOnly)] = provider.Quote{
			Basis:    basis,
			BasisToA: q.BasisToA,
			BasisToB: q.BasisToB,
		}
		dates = append(dates, date)
	}

	notifier := a.newNotifier()
	if notifier == nil {
		notifier = alerting.NewLogNotifier(a.Logger)
	}

	store := storage.NewMemoryStore()
	manager := provider.NewManager([]provider.Adapter{provider.NewStatic("simulated", quotes)}, store, a.Logger)
	eng := engine.New(manager, store, storage.NewMemoryLocker(), engine.Options{
		Notifier:         notifier,
		NotifyOnCritical: true,
		NotifyOnFailure:  true,
	}, a.Logger)

	results, err := eng.Batch(ctx, dates, engine.BatchOptions{Workers: 1})
	if err != nil {
		return err
	}
	a.printResults(results)

	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(a.Out, "\n%s distances ME4U=%s IOU2=%s UOME=%s\n",
				r.Date.Format(time.DateOnly),
				r.Metrics.Distances().ME4U.StringFixed(4),
				r.Metrics.Distances().IOU2.StringFixed(4),
				r.Metrics.Distances().UOME.StringFixed(4))
		}
	}
	return a.summarize("simulate", results)
}
