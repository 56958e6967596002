package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleRaw(date string, eurUSD, eurCNY string) RawQuote {
	q := provider.Quote{
		Basis:     parity.BasisEUR,
		BasisToA:  decimal.RequireFromString(eurUSD),
		BasisToB:  decimal.RequireFromString(eurCNY),
		Auxiliary: map[string]decimal.Decimal{"eur_rub": decimal.RequireFromString("91.2955")},
	}
	return NewRawQuote(day(date), q, "frankfurter", uuid.New(), time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC))
}

func sampleMetrics(t *testing.T, raw RawQuote, prev *parity.DailyMetrics) parity.DailyMetrics {
	t.Helper()
	rates, err := parity.Transform(raw.Basis, raw.BasisToA, raw.BasisToB)
	require.NoError(t, err)
	m := parity.NewDailyMetrics(raw.Date, rates, prev)
	m.SnapshotID = raw.SnapshotID
	m.ComputeID = uuid.New()
	m.TraceID = raw.TraceID
	m.ComputedAt = time.Date(2026, 1, 16, 8, 0, 1, 0, time.UTC)
	return m
}

func TestNewRawQuote(t *testing.T) {
	raw := sampleRaw("2026-01-15", "1.163", "8.11")
	assert.Equal(t, day("2026-01-15"), raw.Date)
	assert.Equal(t, raw.Date, raw.AsOf)
	assert.NotEqual(t, uuid.Nil, raw.SnapshotID)
	require.NoError(t, raw.Validate())

	bad := raw
	bad.BasisToB = decimal.Zero
	assert.ErrorIs(t, bad.Validate(), parity.ErrNonPositiveQuote)

	bad = raw
	bad.Basis = "GBP"
	assert.Error(t, bad.Validate())
}

func TestMemoryStoreRaw(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetRaw(ctx, day("2026-01-15"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutRaw(ctx, sampleRaw("2026-01-16", "1.16", "8.1")))
	require.NoError(t, s.PutRaw(ctx, sampleRaw("2026-01-15", "1.163", "8.11")))

	replaced := sampleRaw("2026-01-15", "1.17", "8.2")
	require.NoError(t, s.PutRaw(ctx, replaced))

	got, err := s.GetRaw(ctx, day("2026-01-15"))
	require.NoError(t, err)
	assert.Equal(t, "1.17", got.BasisToA.String())
	assert.Equal(t, replaced.SnapshotID, got.SnapshotID)

	list, err := s.ListRaw(ctx, day("2026-01-01"), day("2026-01-31"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Date.Before(list[1].Date))

	require.Error(t, s.PutRaw(ctx, RawQuote{}))
}

func TestMemoryStoreMetrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.LatestMetrics(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	d1 := sampleMetrics(t, sampleRaw("2026-01-12", "1.1111", "8.11"), nil)
	d3 := sampleMetrics(t, sampleRaw("2026-01-14", "1.163", "8.11"), &d1)
	require.NoError(t, s.PutMetrics(ctx, d3))
	require.NoError(t, s.PutMetrics(ctx, d1))

	prev, ok, err := s.LatestMetricsBefore(ctx, day("2026-01-14"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d1.Date, prev.Date)

	prev, ok, err = s.LatestMetricsBefore(ctx, day("2026-01-20"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d3.Date, prev.Date, "gaps are skipped")

	_, ok, err = s.LatestMetricsBefore(ctx, day("2026-01-12"))
	require.NoError(t, err)
	assert.False(t, ok)

	latest, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, d3.Date, latest.Date)

	recent, err := s.ListRecentMetrics(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, d3.Date, recent[0].Date)

	none, err := s.ListRecentMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListMetrics(ctx, day("2026-01-01"), day("2026-01-31"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, d1.Date, all[0].Date)

	_, err = s.GetMetrics(ctx, day("2026-01-13"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAttempts(t *testing.T) {
	s := NewMemoryStore()
	kind := provider.KindTimeout
	require.NoError(t, s.RecordAttempt(context.Background(), provider.Attempt{Provider: "a", Order: 1, ErrorKind: &kind}))
	require.NoError(t, s.RecordAttempt(context.Background(), provider.Attempt{Provider: "b", Order: 2, Success: true}))

	attempts := s.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, "b", attempts[1].Provider)
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, int32(20260115), dateKey(day("2026-01-15")))
	assert.Equal(t, int32(19991231), dateKey(time.Date(1999, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
}
