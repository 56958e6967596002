package parity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvariantMismatch marks a stored row whose invariant is not the exact product of its rates.
var ErrInvariantMismatch = errors.New("parity: invariant does not equal product of stored rates")

// DailyMetrics is the derived record for one date. Invariant, deviation, state and
// distances are functions of the stored rates, so they cannot disagree with them.
type DailyMetrics struct {
	Date         time.Time
	Rates        Rates
	RelPaths     NullTriple
	Volatilities NullTriple
	Winner       Instrument
	Reason       WinnerReason

	SnapshotID uuid.UUID
	ComputeID  uuid.UUID
	TraceID    uuid.UUID
	ComputedAt time.Time
}

// Invariant is the exact product of the stored rates.
func (m DailyMetrics) Invariant() decimal.Decimal {
	return Invariant(m.Rates)
}

// Deviation is |invariant - 1|.
func (m DailyMetrics) Deviation() decimal.Decimal {
	return Deviation(m.Invariant())
}

// State classifies the deviation.
func (m DailyMetrics) State() State {
	return Classify(m.Deviation())
}

// Distances of the stored rates from parity, in percent.
func (m DailyMetrics) Distances() Triple {
	return Distances(m.Rates)
}

// NewDailyMetrics derives the record for date from freshly transformed rates.
// prev is the record of the most recent earlier date with a row, or nil.
func NewDailyMetrics(date time.Time, fresh Rates, prev *DailyMetrics) DailyMetrics {
	stored := fresh.Round()
	distances := Distances(stored)

	var (
		prevDistances *Triple
		prevRates     *Rates
	)
	if prev != nil {
		d := prev.Distances()
		r := prev.Rates
		prevDistances = &d
		prevRates = &r
	}

	relpaths := RelativePaths(distances, prevDistances)
	winner, reason := SelectWinner(relpaths.ME4U, relpaths.IOU2, relpaths.UOME)

	return DailyMetrics{
		Date:         date,
		Rates:        stored,
		RelPaths:     relpaths,
		Volatilities: Volatilities(stored, prevRates),
		Winner:       winner,
		Reason:       reason,
	}
}

// RestoreDailyMetrics rebuilds a persisted record and verifies the stored invariant.
func RestoreDailyMetrics(m DailyMetrics, storedInvariant decimal.Decimal) (DailyMetrics, error) {
	if !storedInvariant.Equal(m.Invariant()) {
		return DailyMetrics{}, fmt.Errorf("%s: stored %s, product %s: %w",
			m.Date.Format(time.DateOnly), storedInvariant.String(), m.Invariant().String(), ErrInvariantMismatch)
	}
	return m, nil
}
