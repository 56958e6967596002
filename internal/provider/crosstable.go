package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/numeric"
	"fxtriangle/internal/parity"
)

// crossTable holds one upstream table against a single reference currency.
// In quantity form a value is units of the currency per one reference unit
// (EUR->USD = 1.163); in price form it is reference units per one unit of the
// currency (USD = 78.5 RUB).
type crossTable struct {
	ref    string
	price  bool
	values map[string]decimal.Decimal
}

func newQuantityTable(ref string) *crossTable {
	return &crossTable{ref: ref, values: make(map[string]decimal.Decimal)}
}

func newPriceTable(ref string) *crossTable {
	return &crossTable{ref: ref, price: true, values: make(map[string]decimal.Decimal)}
}

func (t *crossTable) set(ccy string, v decimal.Decimal) {
	t.values[strings.ToUpper(ccy)] = v
}

func (t *crossTable) value(ccy string) (decimal.Decimal, bool) {
	ccy = strings.ToUpper(ccy)
	if ccy == t.ref {
		return numeric.One, true
	}
	v, ok := t.values[ccy]
	if !ok || !v.IsPositive() {
		return decimal.Decimal{}, false
	}
	return v, true
}

// cross returns units of `to` per one unit of `from`.
func (t *crossTable) cross(from, to string) (decimal.Decimal, bool) {
	fv, ok := t.value(from)
	if !ok {
		return decimal.Decimal{}, false
	}
	tv, ok := t.value(to)
	if !ok {
		return decimal.Decimal{}, false
	}
	num, den := tv, fv
	if t.price {
		num, den = fv, tv
	}
	if den.Equal(numeric.One) {
		return num, true
	}
	return numeric.Div(num, den), true
}

// requiredCurrencies lists what a table must contain to serve basis.
func requiredCurrencies(basis parity.Basis) []string {
	if basis == parity.BasisRUB {
		return []string{"USD", "CNY", "RUB"}
	}
	return []string{"EUR", "USD", "CNY"}
}

// symbols merges required and auxiliary currencies, minus the table reference.
func symbols(basis parity.Basis, ref string, auxiliary []string) []string {
	seen := map[string]struct{}{strings.ToUpper(ref): {}}
	out := make([]string, 0, len(auxiliary)+3)
	for _, ccy := range append(requiredCurrencies(basis), auxiliary...) {
		ccy = strings.ToUpper(strings.TrimSpace(ccy))
		if ccy == "" {
			continue
		}
		if _, ok := seen[ccy]; ok {
			continue
		}
		seen[ccy] = struct{}{}
		out = append(out, ccy)
	}
	sort.Strings(out)
	return out
}

// normalize converts the table into a Quote in the requested basis.
func (t *crossTable) normalize(provider string, basis parity.Basis, auxiliary []string) (Quote, error) {
	var a, b decimal.Decimal
	var okA, okB bool
	switch basis {
	case parity.BasisEUR:
		a, okA = t.cross("EUR", "USD")
		b, okB = t.cross("EUR", "CNY")
	case parity.BasisRUB:
		a, okA = t.cross("USD", "RUB")
		b, okB = t.cross("CNY", "RUB")
	default:
		return Quote{}, newError(provider, KindConfig, fmt.Sprintf("unsupported basis %q", basis), nil)
	}
	if !okA || !okB {
		return Quote{}, newError(provider, KindMissingField,
			fmt.Sprintf("required %s-basis rates missing, available: %s", basis, strings.Join(t.available(), ",")), nil)
	}

	quote := Quote{
		Basis:     basis,
		BasisToA:  a,
		BasisToB:  b,
		Auxiliary: make(map[string]decimal.Decimal),
	}
	prefix := strings.ToLower(string(basis)) + "_"
	for _, ccy := range auxiliary {
		ccy = strings.ToUpper(strings.TrimSpace(ccy))
		if ccy == "" || ccy == string(basis) {
			continue
		}
		var (
			v  decimal.Decimal
			ok bool
		)
		if basis == parity.BasisEUR {
			v, ok = t.cross("EUR", ccy)
		} else {
			v, ok = t.cross(ccy, "RUB")
		}
		if ok {
			quote.Auxiliary[prefix+strings.ToLower(ccy)] = v
		}
	}
	return quote, nil
}

func (t *crossTable) available() []string {
	out := make([]string, 0, len(t.values))
	for k := range t.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
