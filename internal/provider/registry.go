package provider

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Names lists the adapters that New can build.
func Names() []string {
	return []string{frankfurterName, cbrName, twelveDataName, freeCurrencyName}
}

// New builds the adapter registered under name.
func New(name string, opts Options, logger zerolog.Logger) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case frankfurterName:
		return NewFrankfurter(opts, logger), nil
	case cbrName:
		return NewCBR(opts, logger), nil
	case twelveDataName:
		return NewTwelveData(opts, logger), nil
	case freeCurrencyName:
		return NewFreeCurrencyAPI(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(Names(), ", "))
	}
}
