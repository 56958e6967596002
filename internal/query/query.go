// Package query serves already-computed rows in their published format.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/storage"
)

// DefaultMaxAge is how old the latest row may be before Health reports stale data.
const DefaultMaxAge = 48 * time.Hour

// View is the published form of one DailyMetrics row. Decimals are fixed-point strings.
type View struct {
	Date            string     `json:"date"`
	ME4U            string     `json:"me4u"`
	IOU2            string     `json:"iou2"`
	UOME            string     `json:"uome"`
	Invariant       string     `json:"invariant"`
	InvariantApprox float64    `json:"invariant_float_non_authoritative"`
	Deviation       string     `json:"deviation"`
	State           string     `json:"state"`
	Distances       Triple     `json:"distances"`
	RelPaths        NullTriple `json:"relpaths"`
	Volatilities    NullTriple `json:"volatilities"`
	Winner          string     `json:"winner"`
	Reason          ReasonView `json:"winner_reason"`
	SnapshotID      string     `json:"snapshot_id"`
	ComputeID       string     `json:"compute_id"`
	TraceID         string     `json:"trace_id"`
	ComputedAt      time.Time  `json:"computed_at"`
}

// Triple holds one formatted value per instrument.
type Triple struct {
	ME4U string `json:"me4u"`
	IOU2 string `json:"iou2"`
	UOME string `json:"uome"`
}

// NullTriple holds one optional formatted value per instrument.
type NullTriple struct {
	ME4U *string `json:"me4u"`
	IOU2 *string `json:"iou2"`
	UOME *string `json:"uome"`
}

// ReasonView is the published winner explanation.
type ReasonView struct {
	RelPaths   NullTriple `json:"relpaths"`
	MaxRelPath *string    `json:"max_relpath"`
	Tied       []string   `json:"tied_coins"`
	Rule       string     `json:"selection_rule"`
	Winner     string     `json:"winner"`
}

// HealthReport describes data freshness.
type HealthReport struct {
	Healthy    bool          `json:"healthy"`
	LatestDate string        `json:"latest_date,omitempty"`
	Age        time.Duration `json:"age_ns"`
	Reason     string        `json:"reason,omitempty"`
}

// Service answers lookups over a metrics store.
type Service struct {
	store  storage.MetricsStore
	maxAge time.Duration
}

// NewService builds a Service. A non-positive maxAge falls back to DefaultMaxAge.
func NewService(store storage.MetricsStore, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Service{store: store, maxAge: maxAge}
}

// ByDate returns the row for date.
func (s *Service) ByDate(ctx context.Context, date time.Time) (View, error) {
	m, err := s.store.GetMetrics(ctx, storage.DateOnly(date))
	if err != nil {
		return View{}, fmt.Errorf("metrics for %s: %w", date.Format(time.DateOnly), err)
	}
	return NewView(m), nil
}

// Latest returns the most recent row.
func (s *Service) Latest(ctx context.Context) (View, error) {
	m, err := s.store.LatestMetrics(ctx)
	if err != nil {
		return View{}, fmt.Errorf("latest metrics: %w", err)
	}
	return NewView(m), nil
}

// ErrInvalidLimit is returned by Recent for a non-positive limit.
var ErrInvalidLimit = errors.New("query: limit must be greater than zero")

// Recent returns up to limit rows, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]View, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.store.ListRecentMetrics(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, m := range rows {
		out = append(out, NewView(m))
	}
	return out, nil
}

// Health reports whether the latest row is within the freshness window of now.
func (s *Service) Health(ctx context.Context, now time.Time) (HealthReport, error) {
	m, err := s.store.LatestMetrics(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return HealthReport{Reason: "no metrics stored"}, nil
	}
	if err != nil {
		return HealthReport{}, fmt.Errorf("latest metrics: %w", err)
	}

	age := now.UTC().Sub(m.Date)
	report := HealthReport{
		LatestDate: m.Date.Format(time.DateOnly),
		Age:        age,
		Healthy:    age <= s.maxAge,
	}
	if !report.Healthy {
		report.Reason = fmt.Sprintf("latest row is older than %s", s.maxAge)
	}
	return report, nil
}

// NewView formats a row for publication.
func NewView(m parity.DailyMetrics) View {
	invariant := m.Invariant()
	distances := m.Distances()
	tied := make([]string, 0, len(m.Reason.Tied))
	for _, inst := range m.Reason.Tied {
		tied = append(tied, string(inst))
	}

	return View{
		Date:            m.Date.Format(time.DateOnly),
		ME4U:            m.Rates.ME4U().StringFixed(6),
		IOU2:            m.Rates.IOU2().StringFixed(6),
		UOME:            m.Rates.UOME().StringFixed(6),
		Invariant:       invariant.StringFixed(18),
		InvariantApprox: invariant.InexactFloat64(),
		Deviation:       m.Deviation().StringFixed(18),
		State:           string(m.State()),
		Distances: Triple{
			ME4U: distances.ME4U.String(),
			IOU2: distances.IOU2.String(),
			UOME: distances.UOME.String(),
		},
		RelPaths:     nullTriple(m.RelPaths),
		Volatilities: nullTriple(m.Volatilities),
		Winner:       string(m.Winner),
		Reason: ReasonView{
			RelPaths:   nullTriple(m.Reason.RelPaths()),
			MaxRelPath: nullString(m.Reason.MaxRelPath),
			Tied:       tied,
			Rule:       string(m.Reason.Rule),
			Winner:     string(m.Reason.Winner),
		},
		SnapshotID: m.SnapshotID.String(),
		ComputeID:  m.ComputeID.String(),
		TraceID:    m.TraceID.String(),
		ComputedAt: m.ComputedAt.UTC(),
	}
}

func nullTriple(t parity.NullTriple) NullTriple {
	return NullTriple{
		ME4U: nullString(t.ME4U),
		IOU2: nullString(t.IOU2),
		UOME: nullString(t.UOME),
	}
}

func nullString(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.String()
	return &s
}
