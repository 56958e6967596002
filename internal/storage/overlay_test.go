package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtriangle/internal/provider"
)

func TestOverlayStoreReadsThroughAndKeepsBaseUntouched(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()

	raw1 := sampleRaw("2026-01-01", "1.16", "8.10")
	m1 := sampleMetrics(t, raw1, nil)
	raw3 := sampleRaw("2026-01-03", "1.17", "8.12")
	m3 := sampleMetrics(t, raw3, &m1)
	require.NoError(t, base.PutRaw(ctx, raw1))
	require.NoError(t, base.PutMetrics(ctx, m1))
	require.NoError(t, base.PutRaw(ctx, raw3))
	require.NoError(t, base.PutMetrics(ctx, m3))

	s := NewOverlayStore(base)

	got, err := s.GetRaw(ctx, day("2026-01-01"))
	require.NoError(t, err)
	assert.Equal(t, raw1.SnapshotID, got.SnapshotID)

	prev, ok, err := s.LatestMetricsBefore(ctx, day("2026-01-02"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m1.ComputeID, prev.ComputeID)

	raw2 := sampleRaw("2026-01-02", "1.165", "8.11")
	m2 := sampleMetrics(t, raw2, &m1)
	require.NoError(t, s.PutRaw(ctx, raw2))
	require.NoError(t, s.PutMetrics(ctx, m2))
	require.NoError(t, s.RecordAttempt(ctx, provider.Attempt{Provider: "static", Order: 1, Success: true}))

	_, err = base.GetRaw(ctx, day("2026-01-02"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = base.GetMetrics(ctx, day("2026-01-02"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, base.Attempts())
	assert.Len(t, s.Attempts(), 1)

	prev, ok, err = s.LatestMetricsBefore(ctx, day("2026-01-03"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m2.ComputeID, prev.ComputeID, "overlay row is newer than the base row")

	prev, ok, err = s.LatestMetricsBefore(ctx, day("2026-01-04"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m3.ComputeID, prev.ComputeID)

	_, ok, err = s.LatestMetricsBefore(ctx, day("2026-01-01"))
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListMetrics(ctx, day("2026-01-01"), day("2026-01-03"))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, day("2026-01-01"), list[0].Date)
	assert.Equal(t, day("2026-01-02"), list[1].Date)
	assert.Equal(t, day("2026-01-03"), list[2].Date)

	raws, err := s.ListRaw(ctx, day("2026-01-01"), day("2026-01-03"))
	require.NoError(t, err)
	assert.Len(t, raws, 3)

	recent, err := s.ListRecentMetrics(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, day("2026-01-03"), recent[0].Date)
	assert.Equal(t, day("2026-01-02"), recent[1].Date)

	recent, err = s.ListRecentMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	latest, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, m3.ComputeID, latest.ComputeID)
}

func TestOverlayStoreOverridesBaseRow(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	raw := sampleRaw("2026-01-05", "1.16", "8.10")
	orig := sampleMetrics(t, raw, nil)
	require.NoError(t, base.PutMetrics(ctx, orig))

	s := NewOverlayStore(base)
	redo := sampleMetrics(t, raw, nil)
	require.NoError(t, s.PutMetrics(ctx, redo))

	got, err := s.GetMetrics(ctx, day("2026-01-05"))
	require.NoError(t, err)
	assert.Equal(t, redo.ComputeID, got.ComputeID)

	got, err = base.GetMetrics(ctx, day("2026-01-05"))
	require.NoError(t, err)
	assert.Equal(t, orig.ComputeID, got.ComputeID)
}

func TestOverlayStoreEmpty(t *testing.T) {
	s := NewOverlayStore(NewMemoryStore())
	_, err := s.LatestMetrics(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
