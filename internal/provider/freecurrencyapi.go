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

const freeCurrencyName = "freecurrencyapi"

// FreeCurrencyAPI reads historical EUR-based rates from freecurrencyapi.com.
type FreeCurrencyAPI struct {
	opts   Options
	http   *httpClient
	logger zerolog.Logger
}

// NewFreeCurrencyAPI constructs the adapter.
func NewFreeCurrencyAPI(opts Options, logger zerolog.Logger) *FreeCurrencyAPI {
	opts = opts.withDefaults()
	return &FreeCurrencyAPI{
		opts:   opts,
		http:   newHTTPClient(freeCurrencyName, opts, "https://api.freecurrencyapi.com"),
		logger: logger.With().Str("component", "provider_freecurrencyapi").Logger(),
	}
}

// Name implements Adapter.
func (f *FreeCurrencyAPI) Name() string { return freeCurrencyName }

// Fetch implements Adapter.
func (f *FreeCurrencyAPI) Fetch(ctx context.Context, date time.Time) (Quote, error) {
	if strings.TrimSpace(f.opts.APIKey) == "" {
		return Quote{}, newError(freeCurrencyName, KindConfig, "api key not configured", nil)
	}
	return retry(ctx, freeCurrencyName, f.opts.Retry, func() (Quote, error) {
		return f.fetchOnce(ctx, date)
	})
}

func (f *FreeCurrencyAPI) fetchOnce(ctx context.Context, date time.Time) (Quote, error) {
	day := date.Format(time.DateOnly)
	query := url.Values{}
	query.Set("apikey", f.opts.APIKey)
	query.Set("base_currency", "EUR")
	query.Set("currencies", strings.Join(symbols(f.opts.Basis, "EUR", f.opts.Auxiliary), ","))
	query.Set("date", day)

	body, err := f.http.get(ctx, "/v1/historical", query)
	if err != nil {
		return Quote{}, err
	}

	var payload struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, parseErr(freeCurrencyName, "decode response", err)
	}
	if payload.Data == nil {
		return Quote{}, missing(freeCurrencyName, "data")
	}

	// Historical responses nest the rates under the date; older plans return them flat.
	rates := payload.Data
	if nested, ok := payload.Data[day]; ok {
		rates = nil
		if err := json.Unmarshal(nested, &rates); err != nil {
			return Quote{}, parseErr(freeCurrencyName, "decode rates", err)
		}
	}

	table := newQuantityTable("EUR")
	for ccy, raw := range rates {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			continue
		}
		v, err := numeric.Parse(n.String())
		if err != nil {
			return Quote{}, parseErr(freeCurrencyName, "rate "+ccy, err)
		}
		table.set(ccy, v)
	}

	quote, err := table.normalize(freeCurrencyName, f.opts.Basis, f.opts.Auxiliary)
	if err != nil {
		return Quote{}, err
	}
	quote.AsOf = date
	return quote, nil
}

// HealthCheck implements Adapter.
func (f *FreeCurrencyAPI) HealthCheck(ctx context.Context) bool {
	if strings.TrimSpace(f.opts.APIKey) == "" {
		return false
	}
	query := url.Values{}
	query.Set("apikey", f.opts.APIKey)
	return f.http.ping(ctx, "/v1/status", query)
}

var _ Adapter = (*FreeCurrencyAPI)(nil)
