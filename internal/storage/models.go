package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when no row exists for the requested date.
	ErrNotFound = errors.New("storage: not found")
)

// RawQuote is one date's market input as acquired from a provider.
type RawQuote struct {
	Date       time.Time
	Basis      parity.Basis
	BasisToA   decimal.Decimal
	BasisToB   decimal.Decimal
	Auxiliary  map[string]decimal.Decimal
	Source     string
	AsOf       time.Time
	FetchedAt  time.Time
	SnapshotID uuid.UUID
	TraceID    uuid.UUID
}

// NewRawQuote stamps a provider quote with provenance for date.
func NewRawQuote(date time.Time, q provider.Quote, source string, traceID uuid.UUID, fetchedAt time.Time) RawQuote {
	aux := make(map[string]decimal.Decimal, len(q.Auxiliary))
	for k, v := range q.Auxiliary {
		aux[k] = v
	}
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = date
	}
	return RawQuote{
		Date:       DateOnly(date),
		Basis:      q.Basis,
		BasisToA:   q.BasisToA,
		BasisToB:   q.BasisToB,
		Auxiliary:  aux,
		Source:     source,
		AsOf:       DateOnly(asOf),
		FetchedAt:  fetchedAt.UTC(),
		SnapshotID: uuid.New(),
		TraceID:    traceID,
	}
}

// Validate rejects quotes the store must never hold.
func (r RawQuote) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("raw quote: date is required")
	}
	if _, err := parity.ParseBasis(string(r.Basis)); err != nil {
		return fmt.Errorf("raw quote %s: %w", r.Date.Format(time.DateOnly), err)
	}
	if !r.BasisToA.IsPositive() || !r.BasisToB.IsPositive() {
		return fmt.Errorf("raw quote %s: %w", r.Date.Format(time.DateOnly), parity.ErrNonPositiveQuote)
	}
	if r.Source == "" {
		return fmt.Errorf("raw quote %s: source is required", r.Date.Format(time.DateOnly))
	}
	return nil
}

// RawQuoteStore persists raw market inputs.
type RawQuoteStore interface {
	GetRaw(ctx context.Context, date time.Time) (RawQuote, error)
	PutRaw(ctx context.Context, raw RawQuote) error
	ListRaw(ctx context.Context, from, to time.Time) ([]RawQuote, error)
}

// MetricsStore persists derived daily metrics.
type MetricsStore interface {
	LatestMetricsBefore(ctx context.Context, date time.Time) (parity.DailyMetrics, bool, error)
	PutMetrics(ctx context.Context, m parity.DailyMetrics) error
	GetMetrics(ctx context.Context, date time.Time) (parity.DailyMetrics, error)
	LatestMetrics(ctx context.Context) (parity.DailyMetrics, error)
	ListMetrics(ctx context.Context, from, to time.Time) ([]parity.DailyMetrics, error)
	ListRecentMetrics(ctx context.Context, limit int) ([]parity.DailyMetrics, error)
}

// Repository is everything the engine needs from durable storage.
type Repository interface {
	RawQuoteStore
	MetricsStore
	provider.AttemptRecorder
}

// DateOnly truncates t to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
