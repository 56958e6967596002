package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/storage"
)

// BatchOptions tunes Batch.
type BatchOptions struct {
	// Workers bounds concurrent acquisitions. Computation is always sequential.
	Workers int
}

// Batch acquires dates concurrently, then computes them strictly in date order.
// A failed date is reported in its Result and does not stop the batch.
func (e *Engine) Batch(ctx context.Context, dates []time.Time, opts BatchOptions) ([]Result, error) {
	dates = normalizeDates(dates)
	results := make([]Result, len(dates))
	if len(dates) == 0 {
		return results, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	raws := make([]storage.RawQuote, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, date := range dates {
		i, date := i, date
		results[i] = Result{Date: date, TraceID: uuid.New()}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, serr := e.acquireAndPersist(gctx, date, results[i].TraceID)
			if serr != nil {
				results[i].Err = serr
				return nil
			}
			raws[i] = raw
			results[i].Source = raw.Source
			results[i].SnapshotID = raw.SnapshotID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch acquisition: %w", err)
	}

	return results, e.computeSequential(ctx, results, raws)
}

// Repair recomputes every persisted raw quote in [from, to] in date order.
func (e *Engine) Repair(ctx context.Context, from, to time.Time) ([]Result, error) {
	raws, err := e.store.ListRaw(ctx, storage.DateOnly(from), storage.DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("list raw quotes: %w", err)
	}
	results := make([]Result, len(raws))
	for i, raw := range raws {
		results[i] = Result{Date: raw.Date, Source: raw.Source, SnapshotID: raw.SnapshotID, TraceID: raw.TraceID}
	}
	return results, e.computeSequential(ctx, results, raws)
}

// MissingDates lists the dates in [from, to] that have no derived row.
func (e *Engine) MissingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	from, to = storage.DateOnly(from), storage.DateOnly(to)
	rows, err := e.store.ListMetrics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	have := make(map[time.Time]struct{}, len(rows))
	for _, m := range rows {
		have[storage.DateOnly(m.Date)] = struct{}{}
	}

	missing := make([]time.Time, 0)
	for _, d := range DateRange(from, to) {
		if _, ok := have[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func (e *Engine) acquireAndPersist(ctx context.Context, date time.Time, traceID uuid.UUID) (storage.RawQuote, *StageError) {
	raw, serr := e.acquire(ctx, date, traceID)
	if serr != nil {
		return storage.RawQuote{}, serr
	}
	unlock, serr := e.lock(ctx, date)
	if serr != nil {
		return storage.RawQuote{}, serr
	}
	defer unlock()
	if err := e.store.PutRaw(ctx, raw); err != nil {
		return storage.RawQuote{}, stageErr(date, StagePersistRaw, err)
	}
	return raw, nil
}

// computeSequential fills results in place, in date order. The previous row is
// always read back from the store so a date that failed to persist never
// becomes the context of a later one.
func (e *Engine) computeSequential(ctx context.Context, results []Result, raws []storage.RawQuote) error {
	for i := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if results[i].Err != nil {
			continue
		}
		m, serr := e.computeLocked(ctx, raws[i])
		if serr != nil {
			results[i].Err = serr
			continue
		}
		results[i].Metrics = &m
	}
	return nil
}

func (e *Engine) computeLocked(ctx context.Context, raw storage.RawQuote) (parity.DailyMetrics, *StageError) {
	unlock, serr := e.lock(ctx, raw.Date)
	if serr != nil {
		return parity.DailyMetrics{}, serr
	}
	defer unlock()
	prev, serr := e.previous(ctx, raw.Date)
	if serr != nil {
		return parity.DailyMetrics{}, serr
	}
	return e.computeAndStore(ctx, raw, prev)
}

// Summarize counts completed and failed dates.
func Summarize(results []Result) (processed, failed int) {
	for _, r := range results {
		if r.OK() {
			processed++
		} else {
			failed++
		}
	}
	return processed, failed
}

// DateRange lists every calendar date from from to to inclusive.
func DateRange(from, to time.Time) []time.Time {
	from, to = storage.DateOnly(from), storage.DateOnly(to)
	out := make([]time.Time, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func normalizeDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = storage.DateOnly(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
