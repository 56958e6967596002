package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fxtriangle/internal/parity"
)

// Quote is one date's market input normalised into the pipeline basis.
type Quote struct {
	Basis     parity.Basis
	BasisToA  decimal.Decimal
	BasisToB  decimal.Decimal
	Auxiliary map[string]decimal.Decimal
	// AsOf is the upstream effective date; it trails the requested date on non-trading days.
	AsOf time.Time
}

// Adapter wraps one upstream quote source.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, date time.Time) (Quote, error)
	HealthCheck(ctx context.Context) bool
}

// Attempt is one telemetry record of the fallback loop.
type Attempt struct {
	Date         time.Time
	Provider     string
	Order        int
	Success      bool
	Latency      time.Duration
	ErrorKind    *ErrorKind
	ErrorMessage *string
	RecordedAt   time.Time
}

// AttemptRecorder receives attempts. Its failures never abort acquisition.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindTransport    ErrorKind = "transport"
	KindTimeout      ErrorKind = "timeout"
	KindHTTPStatus   ErrorKind = "http_status"
	KindParse        ErrorKind = "parse"
	KindMissingField ErrorKind = "missing_field"
	KindUnknown      ErrorKind = "unknown"
)

// Error is returned by adapters.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Details    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another try against the same upstream can help.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// KindOf extracts the kind of an adapter error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Failure is one entry of an aggregate acquisition failure.
type Failure struct {
	Provider string
	Kind     ErrorKind
}

// AggregateError is returned when every adapter failed for a date.
type AggregateError struct {
	Date     time.Time
	Failures []Failure
	Errs     []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s(%s)", f.Provider, f.Kind))
	}
	return fmt.Sprintf("all providers failed for %s: %s", e.Date.Format(time.DateOnly), strings.Join(parts, ", "))
}

func (e *AggregateError) Unwrap() []error {
	return e.Errs
}

func newError(provider string, kind ErrorKind, details string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Details: details, Err: err}
}
