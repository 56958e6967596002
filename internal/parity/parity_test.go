package parity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtriangle/internal/numeric"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTransformEUR(t *testing.T) {
	r, err := TransformEUR(dec("1.163"), dec("8.11"))
	require.NoError(t, err)

	assert.True(t, r.UOME().Equal(dec("8.11")))
	assert.Equal(t, "0.143403", r.Round().ME4U().String())
	assert.Equal(t, "0.859845", r.Round().IOU2().String())

	dev := r.Product().Sub(numeric.One).Abs()
	assert.True(t, dev.LessThan(dec("1e-25")), "fresh product %s", r.Product())
}

func TestTransformRUB(t *testing.T) {
	r, err := TransformRUB(dec("78.5"), dec("10.9"))
	require.NoError(t, err)

	assert.True(t, r.IOU2().Equal(dec("78.5")))
	assert.Equal(t, "0.091743", r.Round().UOME().String())
	assert.Equal(t, "0.138854", r.Round().ME4U().String())
	assert.True(t, r.Product().Sub(numeric.One).Abs().LessThanOrEqual(DimensionalTolerance))
}

func TestTransformRejectsBadInput(t *testing.T) {
	_, err := TransformEUR(decimal.Zero, dec("8.11"))
	require.ErrorIs(t, err, ErrNonPositiveQuote)

	_, err = TransformRUB(dec("78.5"), dec("-1"))
	require.ErrorIs(t, err, ErrNonPositiveQuote)

	_, err = Transform(Basis("USD"), dec("1"), dec("1"))
	require.Error(t, err)
}

func TestTransformDispatchesOnBasis(t *testing.T) {
	eur, err := Transform(BasisEUR, dec("1.163"), dec("8.11"))
	require.NoError(t, err)
	rub, err := Transform(BasisRUB, dec("1.163"), dec("8.11"))
	require.NoError(t, err)

	assert.False(t, eur.IOU2().Equal(rub.IOU2()))
}

func TestDimensionalCheck(t *testing.T) {
	swapped := Rates{me4u: dec("6.973516"), iou2: dec("0.859845"), uome: dec("8.11")}
	err := checkDimensions(BasisEUR, swapped)

	var dimErr *DimensionalAnalysisError
	require.True(t, errors.As(err, &dimErr))
	assert.True(t, dimErr.Deviation.GreaterThan(DimensionalTolerance))

	near := Rates{me4u: dec("1"), iou2: dec("1"), uome: dec("1.05")}
	assert.NoError(t, checkDimensions(BasisEUR, near))
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		deviation string
		want      State
	}{
		{"0", StateOK},
		{"0.009999", StateOK},
		{"0.01", StateWarn},
		{"0.049999", StateWarn},
		{"0.05", StateCritical},
		{"0.2", StateCritical},
	}
	for _, tc := range cases {
		t.Run(tc.deviation, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(dec(tc.deviation)))
		})
	}
}

func TestDistance(t *testing.T) {
	assert.True(t, Distance(dec("0.143403")).Equal(dec("85.6597")))
	assert.True(t, Distance(dec("8.11")).Equal(dec("711")))
	assert.True(t, Distance(dec("1")).IsZero())
}

func TestRelativePath(t *testing.T) {
	assert.False(t, RelativePath(dec("80"), numeric.Null()).Valid)
	assert.False(t, RelativePath(dec("80"), numeric.Some(decimal.Zero)).Valid)

	improved := RelativePath(dec("80"), nd("100"))
	require.True(t, improved.Valid)
	assert.True(t, improved.Decimal.Equal(dec("20")), "got %s", improved.Decimal)

	worse := RelativePath(dec("100"), nd("80"))
	require.True(t, worse.Valid)
	assert.True(t, worse.Decimal.Equal(dec("-25")), "got %s", worse.Decimal)
}

func TestVolatility(t *testing.T) {
	assert.False(t, Volatility(dec("1.1"), numeric.Null()).Valid)

	v := Volatility(dec("1.1"), nd("1"))
	require.True(t, v.Valid)
	assert.True(t, v.Decimal.Equal(dec("10")))
}

func TestSelectWinner(t *testing.T) {
	cases := []struct {
		name       string
		me4u, iou2 decimal.NullDecimal
		uome       decimal.NullDecimal
		winner     Instrument
		rule       SelectionRule
		tied       []Instrument
	}{
		{
			name: "max positive",
			me4u: nd("-0.35"), iou2: nd("3.24"), uome: nd("0.05"),
			winner: IOU2, rule: RuleMaxPositive, tied: []Instrument{IOU2},
		},
		{
			name: "all negative",
			me4u: nd("-2.10"), iou2: nd("-0.85"), uome: nd("-1.50"),
			winner: IOU2, rule: RuleLeastNegative, tied: []Instrument{IOU2},
		},
		{
			name: "tie broken alphabetically",
			me4u: nd("3.24"), iou2: nd("3.24"), uome: nd("1.00"),
			winner: IOU2, rule: RuleMaxPositive, tied: []Instrument{IOU2, ME4U},
		},
		{
			name: "tie without iou2",
			me4u: nd("1.5"), iou2: nd("0.3"), uome: nd("1.50"),
			winner: ME4U, rule: RuleMaxPositive, tied: []Instrument{ME4U, UOME},
		},
		{
			name: "zero maximum is least negative",
			me4u: nd("0"), iou2: nd("-1"), uome: numeric.Null(),
			winner: ME4U, rule: RuleLeastNegative, tied: []Instrument{ME4U},
		},
		{
			name: "first day",
			me4u: numeric.Null(), iou2: numeric.Null(), uome: numeric.Null(),
			winner: IOU2, rule: RuleDefaultFirstDay, tied: []Instrument{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			winner, reason := SelectWinner(tc.me4u, tc.iou2, tc.uome)
			assert.Equal(t, tc.winner, winner)
			assert.Equal(t, tc.winner, reason.Winner)
			assert.Equal(t, tc.rule, reason.Rule)
			assert.Equal(t, tc.tied, reason.Tied)
			assert.True(t, numeric.NullEqual(tc.me4u, reason.RelPathME4U))
			assert.True(t, numeric.NullEqual(tc.iou2, reason.RelPathIOU2))
			assert.True(t, numeric.NullEqual(tc.uome, reason.RelPathUOME))
		})
	}
}

func TestSelectWinnerDeterministic(t *testing.T) {
	_, first := SelectWinner(nd("2"), nd("2"), nd("2"))
	for i := 0; i < 10; i++ {
		_, again := SelectWinner(nd("2"), nd("2"), nd("2"))
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []Instrument{IOU2, ME4U, UOME}, first.Tied)
	assert.Equal(t, []Instrument{IOU2, ME4U, UOME}, Instruments(), "iteration order is the tie-break order")
}

func TestWinnerReasonJSON(t *testing.T) {
	_, reason := SelectWinner(nd("-0.35"), nd("3.24"), numeric.Null())
	raw, err := json.Marshal(reason)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"relpath_me4u": "-0.35",
		"relpath_iou2": "3.24",
		"relpath_uome": null,
		"max_relpath": "3.24",
		"tied_coins": ["IOU2"],
		"selection_rule": "max_positive_alphabetical_tiebreak",
		"winner": "IOU2"
	}`, string(raw))
}

func TestNewDailyMetricsFirstDay(t *testing.T) {
	fresh, err := TransformEUR(dec("1.163"), dec("8.11"))
	require.NoError(t, err)

	m := NewDailyMetrics(day("2026-01-15"), fresh, nil)

	for _, inst := range Instruments() {
		v := m.Rates.Of(inst)
		assert.True(t, v.Equal(v.Round(numeric.StoragePlaces)), "%s not at storage scale", inst)
		assert.False(t, m.RelPaths.Of(inst).Valid)
		assert.False(t, m.Volatilities.Of(inst).Valid)
	}
	assert.True(t, m.Invariant().Equal(m.Rates.ME4U().Mul(m.Rates.IOU2()).Mul(m.Rates.UOME())))
	assert.LessOrEqual(t, -m.Invariant().Exponent(), int32(3*numeric.StoragePlaces))
	assert.Equal(t, IOU2, m.Winner)
	assert.Equal(t, RuleDefaultFirstDay, m.Reason.Rule)
}

func TestNewDailyMetricsDependsOnPrevious(t *testing.T) {
	d1Rates, err := TransformEUR(dec("1.1111"), dec("8.11"))
	require.NoError(t, err)
	d1 := NewDailyMetrics(day("2026-01-14"), d1Rates, nil)
	assert.True(t, d1.Distances().ME4U.Round(2).Equal(dec("86.30")), "d1 distance %s", d1.Distances().ME4U)

	d2Rates, err := TransformEUR(dec("1.163"), dec("8.11"))
	require.NoError(t, err)
	d2 := NewDailyMetrics(day("2026-01-15"), d2Rates, &d1)
	assert.True(t, d2.Distances().ME4U.Round(2).Equal(dec("85.66")))

	require.True(t, d2.RelPaths.ME4U.Valid)
	assert.True(t, d2.RelPaths.ME4U.Decimal.IsPositive())
	require.True(t, d2.Volatilities.ME4U.Valid)

	otherRates, err := TransformEUR(dec("1.2"), dec("8.11"))
	require.NoError(t, err)
	other := NewDailyMetrics(day("2026-01-14"), otherRates, nil)
	d2Alt := NewDailyMetrics(day("2026-01-15"), d2Rates, &other)

	assert.False(t, d2Alt.RelPaths.ME4U.Decimal.Equal(d2.RelPaths.ME4U.Decimal))
	assert.True(t, d2Alt.Invariant().Equal(d2.Invariant()))
}

func TestRestoreDailyMetrics(t *testing.T) {
	fresh, err := TransformEUR(dec("1.163"), dec("8.11"))
	require.NoError(t, err)
	m := NewDailyMetrics(day("2026-01-15"), fresh, nil)

	restored, err := RestoreDailyMetrics(m, m.Invariant())
	require.NoError(t, err)
	assert.Equal(t, m.Winner, restored.Winner)

	_, err = RestoreDailyMetrics(m, m.Invariant().Add(dec("0.000000000000000001")))
	require.ErrorIs(t, err, ErrInvariantMismatch)
}

func TestRestoreRates(t *testing.T) {
	_, err := RestoreRates(dec("0.143403"), dec("0.859845"), dec("8.11"))
	require.NoError(t, err)

	_, err = RestoreRates(dec("0.1434031"), dec("0.859845"), dec("8.11"))
	require.Error(t, err)

	_, err = RestoreRates(dec("0"), dec("0.859845"), dec("8.11"))
	require.ErrorIs(t, err, ErrNonPositiveQuote)
}

func TestParseHelpers(t *testing.T) {
	inst, err := ParseInstrument("me4u")
	require.NoError(t, err)
	assert.Equal(t, ME4U, inst)

	_, err = ParseInstrument("usd")
	require.Error(t, err)

	basis, err := ParseBasis("rub")
	require.NoError(t, err)
	assert.Equal(t, BasisRUB, basis)

	rule, err := ParseSelectionRule("least_negative")
	require.NoError(t, err)
	assert.Equal(t, RuleLeastNegative, rule)
}
