package provider

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"fxtriangle/internal/numeric"
)

const cbrName = "cbr"

// CBR reads the Central Bank of Russia daily fixing. Every value is quoted in RUB.
type CBR struct {
	opts   Options
	http   *httpClient
	logger zerolog.Logger
}

// NewCBR constructs the CBR adapter.
func NewCBR(opts Options, logger zerolog.Logger) *CBR {
	opts = opts.withDefaults()
	return &CBR{
		opts:   opts,
		http:   newHTTPClient(cbrName, opts, "https://www.cbr.ru/scripts/XML_daily.asp"),
		logger: logger.With().Str("component", "provider_cbr").Logger(),
	}
}

// Name implements Adapter.
func (c *CBR) Name() string { return cbrName }

// Fetch implements Adapter.
func (c *CBR) Fetch(ctx context.Context, date time.Time) (Quote, error) {
	return retry(ctx, cbrName, c.opts.Retry, func() (Quote, error) {
		return c.fetchOnce(ctx, date)
	})
}

type cbrValCurs struct {
	XMLName xml.Name    `xml:"ValCurs"`
	Date    string      `xml:"Date,attr"`
	Valutes []cbrValute `xml:"Valute"`
}

type cbrValute struct {
	CharCode string `xml:"CharCode"`
	Nominal  string `xml:"Nominal"`
	Value    string `xml:"Value"`
}

func (c *CBR) fetchOnce(ctx context.Context, date time.Time) (Quote, error) {
	query := url.Values{}
	query.Set("date_req", date.Format("02/01/2006"))

	body, err := c.http.get(ctx, "", query)
	if err != nil {
		return Quote{}, err
	}

	curs, err := decodeValCurs(body)
	if err != nil {
		return Quote{}, parseErr(cbrName, "decode xml", err)
	}
	if len(curs.Valutes) == 0 {
		return Quote{}, missing(cbrName, "Valute entries")
	}

	table := newPriceTable("RUB")
	for _, v := range curs.Valutes {
		code := strings.ToUpper(strings.TrimSpace(v.CharCode))
		if code == "" {
			continue
		}
		value, err := numeric.Parse(v.Value)
		if err != nil {
			return Quote{}, parseErr(cbrName, "value "+code, err)
		}
		nominal, err := numeric.Parse(v.Nominal)
		if err != nil || !nominal.IsPositive() {
			return Quote{}, parseErr(cbrName, fmt.Sprintf("nominal %s=%q", code, v.Nominal), err)
		}
		if !nominal.Equal(numeric.One) {
			value = numeric.Div(value, nominal)
		}
		table.set(code, value)
	}

	quote, err := table.normalize(cbrName, c.opts.Basis, c.opts.Auxiliary)
	if err != nil {
		return Quote{}, err
	}
	quote.AsOf = date
	if curs.Date != "" {
		if asOf, err := time.Parse("02.01.2006", curs.Date); err == nil {
			quote.AsOf = asOf
		}
	}

	c.logger.Debug().
		Str("date", date.Format(time.DateOnly)).
		Str("as_of", quote.AsOf.Format(time.DateOnly)).
		Str("basis_to_a", quote.BasisToA.String()).
		Str("basis_to_b", quote.BasisToB.String()).
		Msg("rates fetched")
	return quote, nil
}

func decodeValCurs(body []byte) (cbrValCurs, error) {
	var curs cbrValCurs
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "windows-1251", "cp1251":
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		case "utf-8", "utf8":
			return input, nil
		default:
			return nil, fmt.Errorf("unsupported charset %q", label)
		}
	}
	if err := dec.Decode(&curs); err != nil {
		return cbrValCurs{}, err
	}
	return curs, nil
}

// HealthCheck implements Adapter.
func (c *CBR) HealthCheck(ctx context.Context) bool {
	return c.http.ping(ctx, "", nil)
}

var _ Adapter = (*CBR)(nil)
