package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxtriangle/internal/numeric"
)

const frankfurterName = "frankfurter"

// Frankfurter reads ECB reference rates with EUR as the base currency.
type Frankfurter struct {
	opts   Options
	http   *httpClient
	logger zerolog.Logger
}

// NewFrankfurter constructs the ECB adapter.
func NewFrankfurter(opts Options, logger zerolog.Logger) *Frankfurter {
	opts = opts.withDefaults()
	return &Frankfurter{
		opts:   opts,
		http:   newHTTPClient(frankfurterName, opts, "https://api.frankfurter.dev"),
		logger: logger.With().Str("component", "provider_frankfurter").Logger(),
	}
}

// Name implements Adapter.
func (f *Frankfurter) Name() string { return frankfurterName }

// Fetch implements Adapter.
func (f *Frankfurter) Fetch(ctx context.Context, date time.Time) (Quote, error) {
	return retry(ctx, frankfurterName, f.opts.Retry, func() (Quote, error) {
		return f.fetchOnce(ctx, date)
	})
}

func (f *Frankfurter) fetchOnce(ctx context.Context, date time.Time) (Quote, error) {
	query := url.Values{}
	query.Set("base", "EUR")
	query.Set("symbols", strings.Join(symbols(f.opts.Basis, "EUR", f.opts.Auxiliary), ","))

	body, err := f.http.get(ctx, "/v1/"+date.Format(time.DateOnly), query)
	if err != nil {
		return Quote{}, err
	}

	var payload struct {
		Base  string                 `json:"base"`
		Date  string                 `json:"date"`
		Rates map[string]json.Number `json:"rates"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Quote{}, parseErr(frankfurterName, "decode response", err)
	}
	if payload.Rates == nil {
		return Quote{}, missing(frankfurterName, "rates")
	}
	if payload.Base != "" && !strings.EqualFold(payload.Base, "EUR") {
		return Quote{}, parseErr(frankfurterName, "unexpected base "+payload.Base, nil)
	}

	table := newQuantityTable("EUR")
	for ccy, raw := range payload.Rates {
		v, err := numeric.Parse(raw.String())
		if err != nil {
			return Quote{}, parseErr(frankfurterName, "rate "+ccy, err)
		}
		table.set(ccy, v)
	}

	quote, err := table.normalize(frankfurterName, f.opts.Basis, f.opts.Auxiliary)
	if err != nil {
		return Quote{}, err
	}
	quote.AsOf = date
	if payload.Date != "" {
		asOf, err := time.Parse(time.DateOnly, payload.Date)
		if err != nil {
			return Quote{}, parseErr(frankfurterName, "date", err)
		}
		quote.AsOf = asOf
	}

	f.logger.Debug().
		Str("date", date.Format(time.DateOnly)).
		Str("as_of", quote.AsOf.Format(time.DateOnly)).
		Str("basis_to_a", quote.BasisToA.String()).
		Str("basis_to_b", quote.BasisToB.String()).
		Msg("rates fetched")
	return quote, nil
}

// HealthCheck implements Adapter.
func (f *Frankfurter) HealthCheck(ctx context.Context) bool {
	return f.http.ping(ctx, "/v1/latest", nil)
}

var _ Adapter = (*Frankfurter)(nil)
