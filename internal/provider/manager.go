package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxErrorMessage = 500

// Manager tries adapters in priority order and stops at the first success.
type Manager struct {
	adapters []Adapter
	recorder AttemptRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager builds a fallback manager. recorder may be nil.
func NewManager(adapters []Adapter, recorder AttemptRecorder, logger zerolog.Logger) *Manager {
	return &Manager{
		adapters: adapters,
		recorder: recorder,
		logger:   logger.With().Str("component", "provider_manager").Logger(),
		now:      time.Now,
	}
}

// Adapters returns the adapters in priority order.
func (m *Manager) Adapters() []Adapter {
	out := make([]Adapter, len(m.adapters))
	copy(out, m.adapters)
	return out
}

// Acquire returns the first successful quote for date together with the adapter name.
func (m *Manager) Acquire(ctx context.Context, date time.Time) (Quote, string, error) {
	if len(m.adapters) == 0 {
		return Quote{}, "", &AggregateError{Date: date}
	}

	agg := &AggregateError{Date: date}
	for idx, adapter := range m.adapters {
		order := idx + 1
		name := adapter.Name()
		started := m.now()

		quote, err := adapter.Fetch(ctx, date)
		latency := m.now().Sub(started)

		if err == nil {
			m.record(ctx, Attempt{Date: date, Provider: name, Order: order, Success: true, Latency: latency})
			m.logger.Info().
				Str("date", date.Format(time.DateOnly)).
				Str("provider", name).
				Int("order", order).
				Dur("latency", latency).
				Msg("provider succeeded")
			return quote, name, nil
		}

		kind := KindOf(err)
		msg := truncateText(err.Error(), maxErrorMessage)
		m.record(ctx, Attempt{
			Date:         date,
			Provider:     name,
			Order:        order,
			Success:      false,
			Latency:      latency,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
		})
		m.logger.Warn().Err(err).
			Str("date", date.Format(time.DateOnly)).
			Str("provider", name).
			Int("order", order).
			Str("kind", string(kind)).
			Msg("provider failed")

		agg.Failures = append(agg.Failures, Failure{Provider: name, Kind: kind})
		agg.Errs = append(agg.Errs, err)
	}

	return Quote{}, "", agg
}

func (m *Manager) record(ctx context.Context, attempt Attempt) {
	if m.recorder == nil {
		return
	}
	attempt.RecordedAt = m.now().UTC()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("panic", fmt.Sprint(r)).Str("provider", attempt.Provider).Msg("attempt recorder panicked")
		}
	}()
	if err := m.recorder.RecordAttempt(ctx, attempt); err != nil {
		m.logger.Error().Err(err).Str("provider", attempt.Provider).Msg("failed to record provider attempt")
	}
}

// HealthStatus is the reachability of one adapter.
type HealthStatus struct {
	Provider string
	Healthy  bool
}

// HealthCheckAll health-checks every adapter in priority order.
func (m *Manager) HealthCheckAll(ctx context.Context) []HealthStatus {
	out := make([]HealthStatus, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		out = append(out, HealthStatus{Provider: adapter.Name(), Healthy: adapter.HealthCheck(ctx)})
	}
	return out
}

// Static serves quotes from memory. It backs the simulate command and tests.
type Static struct {
	ProviderName string
	Quotes       map[string]Quote
	Err          error
}

// NewStatic builds a Static adapter from quotes keyed by YYYY-MM-DD.
func NewStatic(name string, quotes map[string]Quote) *Static {
	return &Static{ProviderName: name, Quotes: quotes}
}

// Name implements Adapter.
func (s *Static) Name() string { return s.ProviderName }

// Fetch implements Adapter.
func (s *Static) Fetch(_ context.Context, date time.Time) (Quote, error) {
	if s.Err != nil {
		return Quote{}, s.Err
	}
	q, ok := s.Quotes[date.Format(time.DateOnly)]
	if !ok {
		return Quote{}, newError(s.ProviderName, KindMissingField, "no quote for "+date.Format(time.DateOnly), nil)
	}
	if q.Auxiliary == nil {
		q.Auxiliary = map[string]decimal.Decimal{}
	}
	if q.AsOf.IsZero() {
		q.AsOf = date
	}
	return q, nil
}

// HealthCheck implements Adapter.
func (s *Static) HealthCheck(context.Context) bool { return s.Err == nil }

var _ Adapter = (*Static)(nil)
