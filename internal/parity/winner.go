package parity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SelectionRule names how a winner was chosen.
type SelectionRule string

const (
	RuleDefaultFirstDay SelectionRule = "default_first_day"
	RuleMaxPositive     SelectionRule = "max_positive_alphabetical_tiebreak"
	RuleLeastNegative   SelectionRule = "least_negative"
)

// ParseSelectionRule validates a persisted rule name.
func ParseSelectionRule(raw string) (SelectionRule, error) {
	switch SelectionRule(raw) {
	case RuleDefaultFirstDay, RuleMaxPositive, RuleLeastNegative:
		return SelectionRule(raw), nil
	default:
		return "", fmt.Errorf("unknown selection rule %q", raw)
	}
}

// WinnerReason records every input and intermediate of a selection.
type WinnerReason struct {
	RelPathME4U decimal.NullDecimal `json:"relpath_me4u"`
	RelPathIOU2 decimal.NullDecimal `json:"relpath_iou2"`
	RelPathUOME decimal.NullDecimal `json:"relpath_uome"`
	MaxRelPath  decimal.NullDecimal `json:"max_relpath"`
	Tied        []Instrument        `json:"tied_coins"`
	Rule        SelectionRule       `json:"selection_rule"`
	Winner      Instrument          `json:"winner"`
}

// SelectWinner picks the instrument with the largest relpath; ties go to the
// alphabetically first instrument. With no relpaths at all IOU2 wins by default.
func SelectWinner(me4u, iou2, uome decimal.NullDecimal) (Instrument, WinnerReason) {
	reason := WinnerReason{
		RelPathME4U: me4u,
		RelPathIOU2: iou2,
		RelPathUOME: uome,
		Tied:        []Instrument{},
	}
	values := NullTriple{ME4U: me4u, IOU2: iou2, UOME: uome}

	var (
		maxValue decimal.Decimal
		found    bool
	)
	for _, inst := range Instruments() {
		v := values.Of(inst)
		if !v.Valid {
			continue
		}
		if !found || v.Decimal.GreaterThan(maxValue) {
			maxValue = v.Decimal
			found = true
		}
	}

	if !found {
		reason.Rule = RuleDefaultFirstDay
		reason.Winner = IOU2
		return IOU2, reason
	}

	// Instruments() is already in tie-break order.
	for _, inst := range Instruments() {
		v := values.Of(inst)
		if v.Valid && v.Decimal.Equal(maxValue) {
			reason.Tied = append(reason.Tied, inst)
		}
	}

	reason.MaxRelPath = decimal.NewNullDecimal(maxValue)
	reason.Winner = reason.Tied[0]
	if maxValue.IsPositive() {
		reason.Rule = RuleMaxPositive
	} else {
		reason.Rule = RuleLeastNegative
	}
	return reason.Winner, reason
}

// RelPaths returns the relpath inputs as a triple.
func (r WinnerReason) RelPaths() NullTriple {
	return NullTriple{ME4U: r.RelPathME4U, IOU2: r.RelPathIOU2, UOME: r.RelPathUOME}
}
