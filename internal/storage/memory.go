package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

// MemoryStore is an in-process Repository used by the simulate command and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	raw      map[string]RawQuote
	metrics  map[string]parity.DailyMetrics
	attempts []provider.Attempt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raw:     make(map[string]RawQuote),
		metrics: make(map[string]parity.DailyMetrics),
	}
}

func dayKey(date time.Time) string {
	return date.UTC().Format(time.DateOnly)
}

// PutRaw implements RawQuoteStore.
func (s *MemoryStore) PutRaw(_ context.Context, raw RawQuote) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	raw.Date = DateOnly(raw.Date)
	if raw.AsOf.IsZero() {
		raw.AsOf = raw.Date
	}
	aux := make(map[string]decimal.Decimal, len(raw.Auxiliary))
	for k, v := range raw.Auxiliary {
		aux[k] = v
	}
	raw.Auxiliary = aux

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[dayKey(raw.Date)] = raw
	return nil
}

// GetRaw implements RawQuoteStore.
func (s *MemoryStore) GetRaw(_ context.Context, date time.Time) (RawQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.raw[dayKey(date)]
	if !ok {
		return RawQuote{}, ErrNotFound
	}
	return raw, nil
}

// ListRaw implements RawQuoteStore.
func (s *MemoryStore) ListRaw(_ context.Context, from, to time.Time) ([]RawQuote, error) {
	from, to = DateOnly(from), DateOnly(to)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RawQuote, 0)
	for _, raw := range s.raw {
		if raw.Date.Before(from) || raw.Date.After(to) {
			continue
		}
		out = append(out, raw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// PutMetrics implements MetricsStore.
func (s *MemoryStore) PutMetrics(_ context.Context, m parity.DailyMetrics) error {
	m.Date = DateOnly(m.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[dayKey(m.Date)] = m
	return nil
}

// GetMetrics implements MetricsStore.
func (s *MemoryStore) GetMetrics(_ context.Context, date time.Time) (parity.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[dayKey(date)]
	if !ok {
		return parity.DailyMetrics{}, ErrNotFound
	}
	return m, nil
}

// LatestMetricsBefore implements MetricsStore.
func (s *MemoryStore) LatestMetricsBefore(_ context.Context, date time.Time) (parity.DailyMetrics, bool, error) {
	date = DateOnly(date)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  parity.DailyMetrics
		found bool
	)
	for _, m := range s.metrics {
		if !m.Date.Before(date) {
			continue
		}
		if !found || m.Date.After(best.Date) {
			best, found = m, true
		}
	}
	return best, found, nil
}

// LatestMetrics implements MetricsStore.
func (s *MemoryStore) LatestMetrics(_ context.Context) (parity.DailyMetrics, error) {
	recent := s.sortedMetrics(true)
	if len(recent) == 0 {
		return parity.DailyMetrics{}, ErrNotFound
	}
	return recent[0], nil
}

// ListMetrics implements MetricsStore.
func (s *MemoryStore) ListMetrics(_ context.Context, from, to time.Time) ([]parity.DailyMetrics, error) {
	from, to = DateOnly(from), DateOnly(to)
	out := make([]parity.DailyMetrics, 0)
	for _, m := range s.sortedMetrics(false) {
		if m.Date.Before(from) || m.Date.After(to) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListRecentMetrics implements MetricsStore. A non-positive limit yields no rows.
func (s *MemoryStore) ListRecentMetrics(_ context.Context, limit int) ([]parity.DailyMetrics, error) {
	if limit <= 0 {
		return []parity.DailyMetrics{}, nil
	}
	recent := s.sortedMetrics(true)
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

func (s *MemoryStore) sortedMetrics(desc bool) []parity.DailyMetrics {
	s.mu.RLock()
	out := make([]parity.DailyMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// RecordAttempt implements provider.AttemptRecorder.
func (s *MemoryStore) RecordAttempt(_ context.Context, a provider.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

// Attempts returns a copy of the recorded telemetry.
func (s *MemoryStore) Attempts() []provider.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provider.Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

var _ Repository = (*MemoryStore)(nil)
