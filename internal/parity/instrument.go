package parity

import (
	"fmt"
	"strings"
)

// Instrument names one of the three synthetic settlement units.
type Instrument string

const (
	IOU2 Instrument = "IOU2"
	ME4U Instrument = "ME4U"
	UOME Instrument = "UOME"
)

// Instruments lists every instrument in tie-break order.
func Instruments() []Instrument {
	return []Instrument{IOU2, ME4U, UOME}
}

// ParseInstrument accepts any case.
func ParseInstrument(raw string) (Instrument, error) {
	switch Instrument(strings.ToUpper(strings.TrimSpace(raw))) {
	case IOU2:
		return IOU2, nil
	case ME4U:
		return ME4U, nil
	case UOME:
		return UOME, nil
	default:
		return "", fmt.Errorf("unknown instrument %q", raw)
	}
}

// State classifies how far the stored invariant drifted from parity.
type State string

const (
	StateOK       State = "OK"
	StateWarn     State = "WARN"
	StateCritical State = "CRITICAL"
)

// Basis is the calling convention of the two quotes feeding the transformer.
type Basis string

const (
	// BasisEUR quotes are units of USD and CNY per one EUR.
	BasisEUR Basis = "EUR"
	// BasisRUB quotes are RUB per one USD and RUB per one CNY.
	BasisRUB Basis = "RUB"
)

// ParseBasis validates a configured basis.
func ParseBasis(raw string) (Basis, error) {
	switch Basis(strings.ToUpper(strings.TrimSpace(raw))) {
	case BasisEUR:
		return BasisEUR, nil
	case BasisRUB:
		return BasisRUB, nil
	default:
		return "", fmt.Errorf("unknown basis %q", raw)
	}
}
