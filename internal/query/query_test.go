package query

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/storage"
)

func seed(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	var prev *parity.DailyMetrics
	for _, row := range []struct{ date, a string }{{"2026-01-13", "1.1111"}, {"2026-01-14", "1.163"}} {
		date, err := time.Parse(time.DateOnly, row.date)
		require.NoError(t, err)
		rates, err := parity.Transform(parity.BasisEUR, decimal.RequireFromString(row.a), decimal.RequireFromString("8.11"))
		require.NoError(t, err)
		m := parity.NewDailyMetrics(date, rates, prev)
		require.NoError(t, store.PutMetrics(ctx, m))
		prev = &m
	}
	return store
}

func TestByDateFormatsFixedPoint(t *testing.T) {
	svc := NewService(seed(t), 0)

	view, err := svc.ByDate(context.Background(), time.Date(2026, 1, 13, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "2026-01-13", view.Date)
	assert.Equal(t, "0.137004", view.ME4U)
	assert.Equal(t, "0.900009", view.IOU2)
	assert.Equal(t, "8.110000", view.UOME)
	assert.Equal(t, "IOU2", view.Winner)
	assert.Equal(t, "default_first_day", view.Reason.Rule)
	assert.Nil(t, view.RelPaths.ME4U)
	assert.Nil(t, view.Volatilities.UOME)

	parts := strings.Split(view.Invariant, ".")
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 18)
	assert.NotContains(t, strings.ToLower(view.Invariant), "e")
	assert.InDelta(t, 1.0, view.InvariantApprox, 1e-4)
	assert.Equal(t, "OK", view.State)
}

func TestLatestCarriesRelPaths(t *testing.T) {
	svc := NewService(seed(t), 0)

	view, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-14", view.Date)
	require.NotNil(t, view.RelPaths.ME4U)
	assert.False(t, strings.HasPrefix(*view.RelPaths.ME4U, "-"))
	assert.Equal(t, "ME4U", view.Winner)
	require.NotNil(t, view.Reason.MaxRelPath)
	assert.Equal(t, []string{"ME4U"}, view.Reason.Tied)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"invariant_float_non_authoritative":`)
	assert.Contains(t, string(raw), `"invariant":"`+view.Invariant+`"`)
}

func TestRecentNewestFirst(t *testing.T) {
	views, err := NewService(seed(t), 0).Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "2026-01-14", views[0].Date)
	assert.Equal(t, "2026-01-13", views[1].Date)
}

func TestRecentRejectsNonPositiveLimit(t *testing.T) {
	svc := NewService(seed(t), 0)
	for _, limit := range []int{0, -1} {
		_, err := svc.Recent(context.Background(), limit)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	}
}

func TestByDateNotFound(t *testing.T) {
	_, err := NewService(storage.NewMemoryStore(), 0).ByDate(context.Background(), time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	svc := NewService(seed(t), 0)

	report, err := svc.Health(ctx, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, "2026-01-14", report.LatestDate)
	assert.Equal(t, 36*time.Hour, report.Age)

	report, err = svc.Health(ctx, time.Date(2026, 1, 16, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.NotEmpty(t, report.Reason)

	report, err = NewService(storage.NewMemoryStore(), time.Hour).Health(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, "no metrics stored", report.Reason)
}
