package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxtriangle/internal/numeric"
)

const twelveDataName = "twelvedata"

// TwelveData reads daily closes of EUR/xxx pairs, one request per pair.
type TwelveData struct {
	opts   Options
	http   *httpClient
	logger zerolog.Logger
}

// NewTwelveData constructs the TwelveData adapter. Requests share one rate limiter.
func NewTwelveData(opts Options, logger zerolog.Logger) *TwelveData {
	opts = opts.withDefaults()
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 8
	}
	return &TwelveData{
		opts:   opts,
		http:   newHTTPClient(twelveDataName, opts, "https://api.twelvedata.com"),
		logger: logger.With().Str("component", "provider_twelvedata").Logger(),
	}
}

// Name implements Adapter.
func (t *TwelveData) Name() string { return twelveDataName }

type twelveDataSeries struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
}

// Fetch implements Adapter.
func (t *TwelveData) Fetch(ctx context.Context, date time.Time) (Quote, error) {
	if strings.TrimSpace(t.opts.APIKey) == "" {
		return Quote{}, newError(twelveDataName, KindConfig, "api key not configured", nil)
	}

	required := make(map[string]struct{}, 3)
	for _, ccy := range requiredCurrencies(t.opts.Basis) {
		required[ccy] = struct{}{}
	}

	table := newQuantityTable("EUR")
	asOf := date
	for _, ccy := range symbols(t.opts.Basis, "EUR", t.opts.Auxiliary) {
		pair := "EUR/" + ccy
		series, err := retry(ctx, twelveDataName, t.opts.Retry, func() (twelveDataSeries, error) {
			return t.fetchSeries(ctx, pair, date)
		})
		if err != nil {
			if _, ok := required[ccy]; ok || ctx.Err() != nil {
				return Quote{}, err
			}
			t.logger.Warn().Err(err).Str("pair", pair).Msg("auxiliary pair skipped")
			continue
		}
		if series.Status == "error" || (series.Code != 0 && series.Code != 200) {
			t.logger.Warn().Str("pair", pair).Int("code", series.Code).Str("message", series.Message).Msg("pair unavailable")
			continue
		}
		if len(series.Values) == 0 || series.Values[0].Close == "" {
			continue
		}
		v, err := numeric.Parse(series.Values[0].Close)
		if err != nil {
			return Quote{}, parseErr(twelveDataName, "close "+pair, err)
		}
		table.set(ccy, v)
		if d, err := time.Parse(time.DateOnly, series.Values[0].Datetime); err == nil && d.Before(asOf) {
			asOf = d
		}
	}

	quote, err := table.normalize(twelveDataName, t.opts.Basis, t.opts.Auxiliary)
	if err != nil {
		return Quote{}, err
	}
	quote.AsOf = asOf
	return quote, nil
}

func (t *TwelveData) fetchSeries(ctx context.Context, pair string, date time.Time) (twelveDataSeries, error) {
	day := date.Format(time.DateOnly)
	query := url.Values{}
	query.Set("symbol", pair)
	query.Set("interval", "1day")
	query.Set("start_date", day)
	query.Set("end_date", day)
	query.Set("apikey", t.opts.APIKey)

	body, err := t.http.get(ctx, "/time_series", query)
	if err != nil {
		return twelveDataSeries{}, err
	}
	var series twelveDataSeries
	if err := json.Unmarshal(body, &series); err != nil {
		return twelveDataSeries{}, parseErr(twelveDataName, "decode "+pair, err)
	}
	return series, nil
}

// HealthCheck implements Adapter.
func (t *TwelveData) HealthCheck(ctx context.Context) bool {
	if strings.TrimSpace(t.opts.APIKey) == "" {
		return false
	}
	query := url.Values{}
	query.Set("apikey", t.opts.APIKey)
	return t.http.ping(ctx, "/api_usage", query)
}

var _ Adapter = (*TwelveData)(nil)
