package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fxtriangle/internal/alerting"
	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
	"fxtriangle/internal/storage"
)

// Acquirer returns one quote for a date together with the provider that served it.
type Acquirer interface {
	Acquire(ctx context.Context, date time.Time) (provider.Quote, string, error)
}

// Options tunes an Engine.
type Options struct {
	Notifier         alerting.Notifier
	NotifyOnCritical bool
	NotifyOnFailure  bool
	Now              func() time.Time
}

// Engine runs acquire, persist raw, compute and persist derived for dates.
type Engine struct {
	acquirer Acquirer
	store    storage.Repository
	locker   storage.DateLocker
	opts     Options
	logger   zerolog.Logger
}

// Result is the outcome of one date.
type Result struct {
	Date       time.Time
	Source     string
	SnapshotID uuid.UUID
	TraceID    uuid.UUID
	Metrics    *parity.DailyMetrics
	Err        *StageError
}

// OK reports whether the date completed.
func (r Result) OK() bool {
	return r.Err == nil
}

// New wires an engine. A nil locker serializes dates within this process only.
func New(acquirer Acquirer, store storage.Repository, locker storage.DateLocker, opts Options, logger zerolog.Logger) *Engine {
	if locker == nil {
		locker = storage.NewMemoryLocker()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		acquirer: acquirer,
		store:    store,
		locker:   locker,
		opts:     opts,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Compute transforms a raw quote and derives its metrics against prev.
// prev is the row of the most recent earlier date, or nil on the first day.
func Compute(raw storage.RawQuote, prev *parity.DailyMetrics) (parity.DailyMetrics, error) {
	rates, err := parity.Transform(raw.Basis, raw.BasisToA, raw.BasisToB)
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	if prev != nil && !prev.Date.Before(raw.Date) {
		return parity.DailyMetrics{}, fmt.Errorf("previous row %s is not before %s",
			prev.Date.Format(time.DateOnly), raw.Date.Format(time.DateOnly))
	}
	m := parity.NewDailyMetrics(raw.Date, rates, prev)
	m.SnapshotID = raw.SnapshotID
	m.TraceID = raw.TraceID
	return m, nil
}

// RunDate acquires, persists and computes a single date.
func (e *Engine) RunDate(ctx context.Context, date time.Time) (Result, error) {
	date = storage.DateOnly(date)
	res := Result{Date: date, TraceID: uuid.New()}

	raw, err := e.acquire(ctx, date, res.TraceID)
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Source = raw.Source
	res.SnapshotID = raw.SnapshotID

	unlock, err := e.lock(ctx, date)
	if err != nil {
		res.Err = err
		return res, err
	}
	defer unlock()

	if err := e.store.PutRaw(ctx, raw); err != nil {
		res.Err = stageErr(date, StagePersistRaw, err)
		return res, res.Err
	}

	prev, err := e.previous(ctx, date)
	if err != nil {
		res.Err = err
		return res, err
	}
	m, err := e.computeAndStore(ctx, raw, prev)
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Metrics = &m
	return res, nil
}

// ComputeDate recomputes a date from its persisted raw quote without acquiring.
func (e *Engine) ComputeDate(ctx context.Context, date time.Time) (Result, error) {
	date = storage.DateOnly(date)
	res := Result{Date: date}

	unlock, err := e.lock(ctx, date)
	if err != nil {
		res.Err = err
		return res, err
	}
	defer unlock()

	raw, loadErr := e.store.GetRaw(ctx, date)
	if loadErr != nil {
		res.Err = stageErr(date, StageCompute, fmt.Errorf("load raw quote: %w", loadErr))
		return res, res.Err
	}
	res.Source = raw.Source
	res.SnapshotID = raw.SnapshotID
	res.TraceID = raw.TraceID

	prev, err := e.previous(ctx, date)
	if err != nil {
		res.Err = err
		return res, err
	}
	m, err := e.computeAndStore(ctx, raw, prev)
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Metrics = &m
	return res, nil
}

func (e *Engine) acquire(ctx context.Context, date time.Time, traceID uuid.UUID) (storage.RawQuote, *StageError) {
	quote, source, err := e.acquirer.Acquire(ctx, date)
	if err != nil {
		e.logger.Error().Err(err).
			Str("date", date.Format(time.DateOnly)).
			Str("trace_id", traceID.String()).
			Msg("acquisition failed")
		e.notifyFailure(ctx, date, traceID, err)
		return storage.RawQuote{}, stageErr(date, StageAcquire, err)
	}
	if quote.Basis == "" {
		quote.Basis = parity.BasisEUR
	}
	return storage.NewRawQuote(date, quote, source, traceID, e.opts.Now()), nil
}

func (e *Engine) lock(ctx context.Context, date time.Time) (func(), *StageError) {
	unlock, err := e.locker.LockDate(ctx, date)
	if err != nil {
		return nil, stageErr(date, StageLock, err)
	}
	return unlock, nil
}

func (e *Engine) previous(ctx context.Context, date time.Time) (*parity.DailyMetrics, *StageError) {
	prev, ok, err := e.store.LatestMetricsBefore(ctx, date)
	if err != nil {
		return nil, stageErr(date, StageCompute, fmt.Errorf("load previous metrics: %w", err))
	}
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

// computeAndStore must run while the date lock is held.
func (e *Engine) computeAndStore(ctx context.Context, raw storage.RawQuote, prev *parity.DailyMetrics) (parity.DailyMetrics, *StageError) {
	m, err := Compute(raw, prev)
	if err != nil {
		e.logger.Error().Err(err).
			Str("date", raw.Date.Format(time.DateOnly)).
			Str("snapshot_id", raw.SnapshotID.String()).
			Msg("compute failed")
		return parity.DailyMetrics{}, stageErr(raw.Date, StageCompute, err)
	}
	m.ComputeID = uuid.New()
	m.ComputedAt = e.opts.Now().UTC()

	if err := e.store.PutMetrics(ctx, m); err != nil {
		return parity.DailyMetrics{}, stageErr(raw.Date, StagePersistDerived, err)
	}

	event := e.logger.Info()
	if m.State() != parity.StateOK {
		event = e.logger.Warn()
	}
	event.
		Str("date", m.Date.Format(time.DateOnly)).
		Str("source", raw.Source).
		Str("me4u", m.Rates.ME4U().String()).
		Str("iou2", m.Rates.IOU2().String()).
		Str("uome", m.Rates.UOME().String()).
		Str("invariant", m.Invariant().String()).
		Str("state", string(m.State())).
		Str("winner", string(m.Winner)).
		Str("rule", string(m.Reason.Rule)).
		Str("compute_id", m.ComputeID.String()).
		Msg("metrics stored")

	if m.State() == parity.StateCritical {
		e.notifyCritical(ctx, m, raw.Source)
	}
	return m, nil
}

func (e *Engine) notifyCritical(ctx context.Context, m parity.DailyMetrics, source string) {
	if e.opts.Notifier == nil || !e.opts.NotifyOnCritical {
		return
	}
	note := alerting.Notification{
		Kind:      alerting.KindCriticalInvariant,
		Date:      m.Date,
		State:     string(m.State()),
		Invariant: m.Invariant(),
		Deviation: m.Deviation(),
		Winner:    string(m.Winner),
		Source:    source,
		TraceID:   m.TraceID.String(),
	}
	if err := e.opts.Notifier.Notify(ctx, note); err != nil {
		e.logger.Error().Err(err).Str("date", m.Date.Format(time.DateOnly)).Msg("failed to dispatch alert")
	}
}

func (e *Engine) notifyFailure(ctx context.Context, date time.Time, traceID uuid.UUID, cause error) {
	if e.opts.Notifier == nil || !e.opts.NotifyOnFailure {
		return
	}
	note := alerting.Notification{
		Kind:    alerting.KindAcquisitionFailed,
		Date:    date,
		TraceID: traceID.String(),
	}
	var agg *provider.AggregateError
	if errors.As(cause, &agg) {
		for _, f := range agg.Failures {
			note.Failures = append(note.Failures, fmt.Sprintf("%s: %s", f.Provider, f.Kind))
		}
	} else {
		note.Failures = []string{cause.Error()}
	}
	if err := e.opts.Notifier.Notify(ctx, note); err != nil {
		e.logger.Error().Err(err).Str("date", date.Format(time.DateOnly)).Msg("failed to dispatch alert")
	}
}
