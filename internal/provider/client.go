package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"fxtriangle/internal/parity"
)

const maxBodyBytes = 4 << 20

// Options parameterise every adapter. Unused fields are ignored per adapter.
type Options struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	UserAgent          string
	Basis              parity.Basis
	Auxiliary          []string
	Retry              RetryPolicy
	RateLimitPerMinute int
}

func (o Options) withDefaults() Options {
	if o.Basis == "" {
		o.Basis = parity.BasisEUR
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// RetryPolicy bounds the exponential backoff around one adapter call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with waits between one and ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 10 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// retry runs op until it succeeds, fails permanently or the policy is exhausted.
func retry[T any](ctx context.Context, name string, policy RetryPolicy, op func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op()
		if err != nil {
			var pe *Error
			if errors.As(err, &pe) && !pe.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, policy.backOff(ctx))
	if err != nil {
		var zero T
		return zero, asProviderError(name, err)
	}
	return out, nil
}

func asProviderError(name string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(name, KindTimeout, "", err)
	}
	return newError(name, KindTransport, "", err)
}

// httpClient performs GET requests and classifies failures into provider errors.
type httpClient struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func newHTTPClient(name string, opts Options, defaultBase string) *httpClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBase
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "fxtriangle/1.0"
	}
	c := &httpClient{
		name:      name,
		baseURL:   baseURL,
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
	}
	if opts.RateLimitPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimitPerMinute)/60), 1)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newError(c.name, KindTimeout, "rate limiter wait", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(c.name, KindConfig, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider:   c.name,
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Details:    snippet(body),
		}
	}
	return body, nil
}

func (c *httpClient) ping(ctx context.Context, path string, query url.Values) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.get(ctx, path, query)
	return err == nil
}

func classifyTransport(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(name, KindTimeout, "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(name, KindTimeout, "", err)
	}
	return newError(name, KindTransport, "", err)
}

func snippet(body []byte) string {
	return truncateText(strings.TrimSpace(string(body)), 200)
}

// truncateText replaces invalid UTF-8 and cuts s to at most limit bytes on a rune boundary.
func truncateText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func missing(name, what string) error {
	return newError(name, KindMissingField, fmt.Sprintf("%s missing", what), nil)
}

func parseErr(name, what string, err error) error {
	return newError(name, KindParse, what, err)
}
