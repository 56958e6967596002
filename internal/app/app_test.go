package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtriangle/internal/config"
	"fxtriangle/internal/engine"
	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
	"fxtriangle/internal/storage"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DSN = ""
	cfg.Lock.Backend = "memory"

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestSimulatePrintsBothDays(t *testing.T) {
	a, out := testApp(t)

	err := a.Simulate(context.Background(), SimulateOptions{
		Basis: parity.BasisEUR,
		Quotes: []SimulatedQuote{
			{Date: time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), BasisToA: decimal.RequireFromString("1.163"), BasisToB: decimal.RequireFromString("8.11")},
			{Date: time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC), BasisToA: decimal.RequireFromString("1.1111"), BasisToB: decimal.RequireFromString("8.11")},
		},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "2026-01-13")
	assert.Contains(t, text, "default_first_day")
	assert.Contains(t, text, "max_positive_alphabetical_tiebreak")
	assert.Contains(t, text, "ME4U=86.2996")
	assert.NotContains(t, text, "e-")
}

func TestSimulateRequiresQuotes(t *testing.T) {
	a, _ := testApp(t)
	require.Error(t, a.Simulate(context.Background(), SimulateOptions{}))
}

func TestCommandsNeedingDatabase(t *testing.T) {
	ctx := context.Background()
	a, _ := testApp(t)

	assert.ErrorIs(t, a.Show(ctx, ShowOptions{Limit: 5}), ErrDatabaseRequired)
	assert.ErrorIs(t, a.Repair(ctx, time.Now(), time.Now()), ErrDatabaseRequired)
	assert.ErrorIs(t, a.Compute(ctx, time.Now()), ErrDatabaseRequired)
	assert.ErrorIs(t, a.Migrate(ctx, storage.MigrateUp), ErrDatabaseRequired)
	assert.ErrorIs(t, a.Backfill(ctx, BackfillOptions{From: time.Now(), To: time.Now()}), ErrDatabaseRequired)
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	a, _ := testApp(t)
	err := a.Backfill(context.Background(), BackfillOptions{
		From: time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestNewAdaptersFollowsOrder(t *testing.T) {
	a, _ := testApp(t)
	a.Config.Providers.Order = []string{"cbr", "frankfurter", "freecurrencyapi"}

	adapters, err := a.newAdapters()
	require.NoError(t, err)

	names := make([]string, 0, len(adapters))
	for _, ad := range adapters {
		names = append(names, ad.Name())
	}
	assert.Equal(t, []string{"cbr", "frankfurter"}, names, "freecurrencyapi is disabled by default")

	a.Config.Providers.Order = []string{"bogus"}
	_, err = a.newAdapters()
	require.Error(t, err)
}

func TestOpenBackendFallsBackToMemory(t *testing.T) {
	a, _ := testApp(t)
	b, err := a.openBackend(context.Background(), false)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &storage.MemoryStore{}, b.store)
	assert.IsType(t, &storage.MemoryLocker{}, b.locker)
	assert.Nil(t, b.db)
}

func TestNewNotifier(t *testing.T) {
	a, _ := testApp(t)
	assert.Nil(t, a.newNotifier())

	a.Config.Alerting.Enabled = true
	assert.NotNil(t, a.newNotifier())
}

func TestPrintResultsShowsStageAndKind(t *testing.T) {
	a, out := testApp(t)
	store := storage.NewMemoryStore()
	manager := provider.NewManager([]provider.Adapter{provider.NewStatic("static", nil)}, store, zerolog.Nop())
	b := &backend{store: store, locker: storage.NewMemoryLocker()}

	res, err := a.newEngine(manager, b, nil).RunDate(context.Background(), time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	a.printResults([]engine.Result{res})

	assert.Contains(t, out.String(), "acquire")
	assert.Contains(t, out.String(), "(aggregate_acquisition)")
}

func TestDryRunMissingOnlyGapUsesStoredPrevious(t *testing.T) {
	ctx := context.Background()
	a, _ := testApp(t)
	jan := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	quote := func(toA, toB string) provider.Quote {
		return provider.Quote{
			Basis:    parity.BasisEUR,
			BasisToA: decimal.RequireFromString(toA),
			BasisToB: decimal.RequireFromString(toB),
		}
	}

	quotes := map[string]provider.Quote{
		"2026-01-01": quote("1.1600", "8.10"),
		"2026-01-02": quote("1.1620", "8.11"),
		"2026-01-03": quote("1.1580", "8.09"),
		"2026-01-04": quote("1.1610", "8.12"),
		"2026-01-05": quote("1.1650", "8.13"),
		"2026-01-07": quote("1.1630", "8.11"),
	}
	base := storage.NewMemoryStore()
	stored := &backend{store: base, locker: storage.NewMemoryLocker()}
	manager := provider.NewManager([]provider.Adapter{provider.NewStatic("static", quotes)}, base, zerolog.Nop())
	seeded, err := a.newEngine(manager, stored, nil).Batch(ctx,
		[]time.Time{jan(1), jan(2), jan(3), jan(4), jan(5), jan(7)}, engine.BatchOptions{Workers: 2})
	require.NoError(t, err)
	for _, r := range seeded {
		require.True(t, r.OK(), r.Date.Format(time.DateOnly))
	}

	missing, err := engine.New(nil, base, nil, engine.Options{}, zerolog.Nop()).MissingDates(ctx, jan(1), jan(7))
	require.NoError(t, err)
	require.Equal(t, []time.Time{jan(6)}, missing)

	quotes["2026-01-06"] = quote("1.1640", "8.14")
	dry := dryRunBackend(stored)
	dryManager := provider.NewManager([]provider.Adapter{provider.NewStatic("static", quotes)}, dry.store, zerolog.Nop())
	results, err := a.newEngine(dryManager, dry, nil).Batch(ctx, missing, engine.BatchOptions{Workers: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	got := results[0].Metrics

	prev, err := base.GetMetrics(ctx, jan(5))
	require.NoError(t, err)
	raw6, err := dry.store.GetRaw(ctx, jan(6))
	require.NoError(t, err)
	want, err := engine.Compute(raw6, &prev)
	require.NoError(t, err)

	assert.True(t, got.RelPaths.ME4U.Valid, "gap day has a previous row")
	assert.Equal(t, want.RelPaths, got.RelPaths)
	assert.Equal(t, want.Winner, got.Winner)
	assert.NotEqual(t, parity.RuleDefaultFirstDay, got.Reason.Rule)

	_, err = base.GetMetrics(ctx, jan(6))
	assert.ErrorIs(t, err, storage.ErrNotFound, "dry run never writes to the real store")
	_, err = base.GetRaw(ctx, jan(6))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
