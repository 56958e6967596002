package parity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/numeric"
)

// DimensionalTolerance bounds |product - 1| for freshly transformed rates.
var DimensionalTolerance = decimal.RequireFromString("0.05")

// ErrNonPositiveQuote is returned when a cross rate is zero or negative.
var ErrNonPositiveQuote = errors.New("parity: quotes must be positive")

// DimensionalAnalysisError reports a transform whose product is far from one.
// It points at swapped arguments or wrong units upstream, not at market drift.
type DimensionalAnalysisError struct {
	Basis     Basis
	Product   decimal.Decimal
	Deviation decimal.Decimal
}

func (e *DimensionalAnalysisError) Error() string {
	return fmt.Sprintf("dimensional analysis failed (%s basis): product %s, deviation %s exceeds %s",
		e.Basis, e.Product.String(), e.Deviation.String(), DimensionalTolerance.String())
}

// Rates holds the three canonical instrument rates.
type Rates struct {
	me4u decimal.Decimal
	iou2 decimal.Decimal
	uome decimal.Decimal
}

// ME4U returns the ME4U rate.
func (r Rates) ME4U() decimal.Decimal { return r.me4u }

// IOU2 returns the IOU2 rate.
func (r Rates) IOU2() decimal.Decimal { return r.iou2 }

// UOME returns the UOME rate.
func (r Rates) UOME() decimal.Decimal { return r.uome }

// Of returns the rate for one instrument.
func (r Rates) Of(inst Instrument) decimal.Decimal {
	switch inst {
	case ME4U:
		return r.me4u
	case IOU2:
		return r.iou2
	default:
		return r.uome
	}
}

// Product is the exact product of the three rates.
func (r Rates) Product() decimal.Decimal {
	return r.me4u.Mul(r.iou2).Mul(r.uome)
}

// Round returns the rates at storage scale.
func (r Rates) Round() Rates {
	return Rates{
		me4u: numeric.RoundStorage(r.me4u),
		iou2: numeric.RoundStorage(r.iou2),
		uome: numeric.RoundStorage(r.uome),
	}
}

// IsZero reports whether the rates were never populated.
func (r Rates) IsZero() bool {
	return r.me4u.IsZero() && r.iou2.IsZero() && r.uome.IsZero()
}

// RestoreRates rebuilds persisted rates. Values must be positive and at storage scale.
func RestoreRates(me4u, iou2, uome decimal.Decimal) (Rates, error) {
	r := Rates{me4u: me4u, iou2: iou2, uome: uome}
	for _, inst := range Instruments() {
		v := r.Of(inst)
		if !v.IsPositive() {
			return Rates{}, fmt.Errorf("restore %s rate %s: %w", inst, v.String(), ErrNonPositiveQuote)
		}
		if !v.Equal(numeric.RoundStorage(v)) {
			return Rates{}, fmt.Errorf("restore %s rate %s: more than %d decimal places", inst, v.String(), numeric.StoragePlaces)
		}
	}
	return r, nil
}

// Transform dispatches on an explicit basis. The two conventions are never inferred.
func Transform(basis Basis, basisToA, basisToB decimal.Decimal) (Rates, error) {
	switch basis {
	case BasisEUR:
		return TransformEUR(basisToA, basisToB)
	case BasisRUB:
		return TransformRUB(basisToA, basisToB)
	default:
		return Rates{}, fmt.Errorf("transform: unknown basis %q", basis)
	}
}

// TransformEUR maps EUR->USD (a) and EUR->CNY (b) onto instrument rates:
// me4u = a/b, iou2 = 1/a, uome = b.
func TransformEUR(eurUSD, eurCNY decimal.Decimal) (Rates, error) {
	if !eurUSD.IsPositive() || !eurCNY.IsPositive() {
		return Rates{}, fmt.Errorf("transform eur_usd=%s eur_cny=%s: %w", eurUSD.String(), eurCNY.String(), ErrNonPositiveQuote)
	}
	r := Rates{
		me4u: numeric.Div(eurUSD, eurCNY),
		iou2: numeric.Div(numeric.One, eurUSD),
		uome: eurCNY,
	}
	if err := checkDimensions(BasisEUR, r); err != nil {
		return Rates{}, err
	}
	return r, nil
}

// TransformRUB maps RUB per USD and RUB per CNY onto instrument rates:
// iou2 = rubUSD, uome = 1/rubCNY, me4u = rubCNY/rubUSD.
func TransformRUB(rubUSD, rubCNY decimal.Decimal) (Rates, error) {
	if !rubUSD.IsPositive() || !rubCNY.IsPositive() {
		return Rates{}, fmt.Errorf("transform rub_usd=%s rub_cny=%s: %w", rubUSD.String(), rubCNY.String(), ErrNonPositiveQuote)
	}
	r := Rates{
		me4u: numeric.Div(rubCNY, rubUSD),
		iou2: rubUSD,
		uome: numeric.Div(numeric.One, rubCNY),
	}
	if err := checkDimensions(BasisRUB, r); err != nil {
		return Rates{}, err
	}
	return r, nil
}

func checkDimensions(basis Basis, r Rates) error {
	product := r.Product()
	deviation := product.Sub(numeric.One).Abs()
	if deviation.GreaterThan(DimensionalTolerance) {
		return &DimensionalAnalysisError{Basis: basis, Product: product, Deviation: deviation}
	}
	return nil
}
