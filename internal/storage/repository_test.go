package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

func withPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("TESTCONTAINERS") == "" {
		t.Skip("set TESTCONTAINERS=1 to run containerized PG tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.RunContainer(ctx,
		postgres.WithDatabase("fxtriangle"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, dsn, MigrateUp))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	store := NewStore(pool, 42)
	t.Cleanup(store.Close)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := withPostgres(t)
	ctx := context.Background()

	raw1 := sampleRaw("2026-01-12", "1.1111", "8.11")
	raw2 := sampleRaw("2026-01-14", "1.163", "8.11")
	require.NoError(t, store.PutRaw(ctx, raw1))
	require.NoError(t, store.PutRaw(ctx, raw2))

	got, err := store.GetRaw(ctx, raw2.Date)
	require.NoError(t, err)
	assert.True(t, got.BasisToA.Equal(raw2.BasisToA))
	assert.Equal(t, raw2.SnapshotID, got.SnapshotID)
	assert.Equal(t, "91.2955", got.Auxiliary["eur_rub"].String())

	_, err = store.GetRaw(ctx, day("2026-01-13"))
	require.ErrorIs(t, err, ErrNotFound)

	d1 := sampleMetrics(t, raw1, nil)
	d2 := sampleMetrics(t, raw2, &d1)
	require.NoError(t, store.PutMetrics(ctx, d1))
	require.NoError(t, store.PutMetrics(ctx, d2))

	loaded, err := store.GetMetrics(ctx, d2.Date)
	require.NoError(t, err)
	assert.True(t, loaded.Invariant().Equal(d2.Invariant()))
	assert.Equal(t, d2.Winner, loaded.Winner)
	assert.Equal(t, d2.Reason.Rule, loaded.Reason.Rule)
	assert.True(t, loaded.RelPaths.ME4U.Valid)
	assert.True(t, loaded.RelPaths.ME4U.Decimal.Equal(d2.RelPaths.ME4U.Decimal))
	assert.Equal(t, d2.ComputeID, loaded.ComputeID)

	first, err := store.GetMetrics(ctx, d1.Date)
	require.NoError(t, err)
	assert.False(t, first.RelPaths.IOU2.Valid)
	assert.Equal(t, parity.RuleDefaultFirstDay, first.Reason.Rule)

	prev, ok, err := store.LatestMetricsBefore(ctx, d2.Date)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d1.Date, prev.Date)

	recent, err := store.ListRecentMetrics(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, d2.Date, recent[0].Date)

	none, err := store.ListRecentMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	kind := provider.KindHTTPStatus
	msg := "503"
	require.NoError(t, store.RecordAttempt(ctx, provider.Attempt{
		Date: d2.Date, Provider: "frankfurter", Order: 1, Latency: 120 * time.Millisecond,
		ErrorKind: &kind, ErrorMessage: &msg,
	}))
}

func TestStoreInvariantMismatchOnRead(t *testing.T) {
	store := withPostgres(t)
	ctx := context.Background()

	raw := sampleRaw("2026-01-12", "1.1111", "8.11")
	require.NoError(t, store.PutRaw(ctx, raw))
	require.NoError(t, store.PutMetrics(ctx, sampleMetrics(t, raw, nil)))

	_, err := store.pool.Exec(ctx, `UPDATE daily_metrics SET invariant = invariant + 0.000001`)
	require.NoError(t, err)

	_, err = store.GetMetrics(ctx, raw.Date)
	require.ErrorIs(t, err, parity.ErrInvariantMismatch)
}

func TestStoreLockDate(t *testing.T) {
	store := withPostgres(t)
	ctx := context.Background()

	unlock, err := store.LockDate(ctx, day("2026-01-15"))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		acquired time.Time
		released time.Time
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, err := store.LockDate(ctx, day("2026-01-15"))
		if assert.NoError(t, err) {
			acquired = time.Now()
			second()
		}
	}()

	time.Sleep(200 * time.Millisecond)
	released = time.Now()
	unlock()
	wg.Wait()
	assert.False(t, acquired.Before(released))
}

func TestStoreNotConfigured(t *testing.T) {
	var store *Store
	_, err := store.GetRaw(context.Background(), day("2026-01-15"))
	require.ErrorIs(t, err, ErrNotConfigured)
}
