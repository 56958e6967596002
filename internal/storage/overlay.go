package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

// OverlayStore keeps every write in memory and reads through to a base store
// for dates it has not written. The base store is never modified.
type OverlayStore struct {
	base Repository
	mem  *MemoryStore
}

// NewOverlayStore layers an in-memory store over base.
func NewOverlayStore(base Repository) *OverlayStore {
	return &OverlayStore{base: base, mem: NewMemoryStore()}
}

// Attempts returns the telemetry recorded through the overlay.
func (s *OverlayStore) Attempts() []provider.Attempt {
	return s.mem.Attempts()
}

// PutRaw implements RawQuoteStore.
func (s *OverlayStore) PutRaw(ctx context.Context, raw RawQuote) error {
	return s.mem.PutRaw(ctx, raw)
}

// GetRaw implements RawQuoteStore.
func (s *OverlayStore) GetRaw(ctx context.Context, date time.Time) (RawQuote, error) {
	raw, err := s.mem.GetRaw(ctx, date)
	if errors.Is(err, ErrNotFound) {
		return s.base.GetRaw(ctx, date)
	}
	return raw, err
}

// ListRaw implements RawQuoteStore.
func (s *OverlayStore) ListRaw(ctx context.Context, from, to time.Time) ([]RawQuote, error) {
	base, err := s.base.ListRaw(ctx, from, to)
	if err != nil {
		return nil, err
	}
	mem, err := s.mem.ListRaw(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]RawQuote, len(base)+len(mem))
	for _, r := range base {
		byDay[dayKey(r.Date)] = r
	}
	for _, r := range mem {
		byDay[dayKey(r.Date)] = r
	}
	out := make([]RawQuote, 0, len(byDay))
	for _, r := range byDay {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// PutMetrics implements MetricsStore.
func (s *OverlayStore) PutMetrics(ctx context.Context, m parity.DailyMetrics) error {
	return s.mem.PutMetrics(ctx, m)
}

// GetMetrics implements MetricsStore.
func (s *OverlayStore) GetMetrics(ctx context.Context, date time.Time) (parity.DailyMetrics, error) {
	m, err := s.mem.GetMetrics(ctx, date)
	if errors.Is(err, ErrNotFound) {
		return s.base.GetMetrics(ctx, date)
	}
	return m, err
}

// LatestMetricsBefore implements MetricsStore. On the same date the overlay row wins.
func (s *OverlayStore) LatestMetricsBefore(ctx context.Context, date time.Time) (parity.DailyMetrics, bool, error) {
	mem, memOK, err := s.mem.LatestMetricsBefore(ctx, date)
	if err != nil {
		return parity.DailyMetrics{}, false, err
	}
	base, baseOK, err := s.base.LatestMetricsBefore(ctx, date)
	if err != nil {
		return parity.DailyMetrics{}, false, err
	}
	switch {
	case memOK && (!baseOK || !base.Date.After(mem.Date)):
		return mem, true, nil
	case baseOK:
		return base, true, nil
	default:
		return parity.DailyMetrics{}, false, nil
	}
}

// LatestMetrics implements MetricsStore.
func (s *OverlayStore) LatestMetrics(ctx context.Context) (parity.DailyMetrics, error) {
	recent, err := s.ListRecentMetrics(ctx, 1)
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	if len(recent) == 0 {
		return parity.DailyMetrics{}, ErrNotFound
	}
	return recent[0], nil
}

// ListMetrics implements MetricsStore.
func (s *OverlayStore) ListMetrics(ctx context.Context, from, to time.Time) ([]parity.DailyMetrics, error) {
	base, err := s.base.ListMetrics(ctx, from, to)
	if err != nil {
		return nil, err
	}
	mem, err := s.mem.ListMetrics(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return mergeMetrics(base, mem, false), nil
}

// ListRecentMetrics implements MetricsStore. A non-positive limit yields no rows.
func (s *OverlayStore) ListRecentMetrics(ctx context.Context, limit int) ([]parity.DailyMetrics, error) {
	if limit <= 0 {
		return []parity.DailyMetrics{}, nil
	}
	base, err := s.base.ListRecentMetrics(ctx, limit)
	if err != nil {
		return nil, err
	}
	mem, err := s.mem.ListRecentMetrics(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := mergeMetrics(base, mem, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordAttempt implements provider.AttemptRecorder.
func (s *OverlayStore) RecordAttempt(ctx context.Context, a provider.Attempt) error {
	return s.mem.RecordAttempt(ctx, a)
}

// mergeMetrics combines two row sets by date; rows in top replace rows in bottom.
func mergeMetrics(bottom, top []parity.DailyMetrics, desc bool) []parity.DailyMetrics {
	byDay := make(map[string]parity.DailyMetrics, len(bottom)+len(top))
	for _, m := range bottom {
		byDay[dayKey(m.Date)] = m
	}
	for _, m := range top {
		byDay[dayKey(m.Date)] = m
	}
	out := make([]parity.DailyMetrics, 0, len(byDay))
	for _, m := range byDay {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

var _ Repository = (*OverlayStore)(nil)
