package parity

import (
	"github.com/shopspring/decimal"

	"fxtriangle/internal/numeric"
)

var (
	warnThreshold     = decimal.RequireFromString("0.01")
	criticalThreshold = decimal.RequireFromString("0.05")
)

// Invariant is the exact product of the rates. No rounding, no clamping.
func Invariant(r Rates) decimal.Decimal {
	return r.Product()
}

// Deviation is |invariant - 1| as a fraction.
func Deviation(invariant decimal.Decimal) decimal.Decimal {
	return invariant.Sub(numeric.One).Abs()
}

// Classify maps a deviation onto a state. Exactly 1% is WARN and exactly 5% is CRITICAL.
func Classify(deviation decimal.Decimal) State {
	switch {
	case deviation.LessThan(warnThreshold):
		return StateOK
	case deviation.LessThan(criticalThreshold):
		return StateWarn
	default:
		return StateCritical
	}
}

// Distance is |rate - 1| * 100.
func Distance(rate decimal.Decimal) decimal.Decimal {
	return rate.Sub(numeric.One).Abs().Mul(numeric.Hundred)
}

// RelativePath is (prev - today) / prev * 100; positive means today is closer to parity.
// It is null when there is no previous distance or the previous distance is zero.
func RelativePath(today decimal.Decimal, prev decimal.NullDecimal) decimal.NullDecimal {
	if !prev.Valid || prev.Decimal.IsZero() {
		return numeric.Null()
	}
	return numeric.Some(numeric.Div(prev.Decimal.Sub(today), prev.Decimal).Mul(numeric.Hundred))
}

// Volatility is (today - prev) / prev * 100 over consecutive stored rates.
func Volatility(today decimal.Decimal, prev decimal.NullDecimal) decimal.NullDecimal {
	if !prev.Valid || prev.Decimal.IsZero() {
		return numeric.Null()
	}
	return numeric.Some(numeric.Div(today.Sub(prev.Decimal), prev.Decimal).Mul(numeric.Hundred))
}

// Triple carries one decimal per instrument.
type Triple struct {
	ME4U decimal.Decimal `json:"me4u"`
	IOU2 decimal.Decimal `json:"iou2"`
	UOME decimal.Decimal `json:"uome"`
}

// Of returns the value for one instrument.
func (t Triple) Of(inst Instrument) decimal.Decimal {
	switch inst {
	case ME4U:
		return t.ME4U
	case IOU2:
		return t.IOU2
	default:
		return t.UOME
	}
}

// NullTriple carries one nullable decimal per instrument.
type NullTriple struct {
	ME4U decimal.NullDecimal `json:"me4u"`
	IOU2 decimal.NullDecimal `json:"iou2"`
	UOME decimal.NullDecimal `json:"uome"`
}

// Of returns the value for one instrument.
func (t NullTriple) Of(inst Instrument) decimal.NullDecimal {
	switch inst {
	case ME4U:
		return t.ME4U
	case IOU2:
		return t.IOU2
	default:
		return t.UOME
	}
}

// Distances computes the distance of every rate.
func Distances(r Rates) Triple {
	return Triple{
		ME4U: Distance(r.ME4U()),
		IOU2: Distance(r.IOU2()),
		UOME: Distance(r.UOME()),
	}
}

// RelativePaths computes relpaths against an optional previous set of distances.
func RelativePaths(today Triple, prev *Triple) NullTriple {
	if prev == nil {
		return NullTriple{}
	}
	return NullTriple{
		ME4U: RelativePath(today.ME4U, numeric.Some(prev.ME4U)),
		IOU2: RelativePath(today.IOU2, numeric.Some(prev.IOU2)),
		UOME: RelativePath(today.UOME, numeric.Some(prev.UOME)),
	}
}

// Volatilities computes day-over-day rate changes against optional previous rates.
func Volatilities(today Rates, prev *Rates) NullTriple {
	if prev == nil {
		return NullTriple{}
	}
	return NullTriple{
		ME4U: Volatility(today.ME4U(), numeric.Some(prev.ME4U())),
		IOU2: Volatility(today.IOU2(), numeric.Some(prev.IOU2())),
		UOME: Volatility(today.UOME(), numeric.Some(prev.UOME())),
	}
}
