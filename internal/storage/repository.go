package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
)

const (
	upsertRawQuoteSQL = `INSERT INTO raw_quotes (
        date,
        basis,
        basis_to_a,
        basis_to_b,
        auxiliary,
        source,
        as_of,
        fetched_at,
        snapshot_id,
        trace_id
    ) VALUES (
        $1,$2,$3::numeric,$4::numeric,$5::jsonb,$6,$7,$8,$9::uuid,$10::uuid
    )
    ON CONFLICT (date) DO UPDATE
    SET
        basis       = EXCLUDED.basis,
        basis_to_a  = EXCLUDED.basis_to_a,
        basis_to_b  = EXCLUDED.basis_to_b,
        auxiliary   = EXCLUDED.auxiliary,
        source      = EXCLUDED.source,
        as_of       = EXCLUDED.as_of,
        fetched_at  = EXCLUDED.fetched_at,
        snapshot_id = EXCLUDED.snapshot_id,
        trace_id    = EXCLUDED.trace_id,
        updated_at  = NOW();`

	rawQuoteColumns = `date,
        basis,
        basis_to_a::text,
        basis_to_b::text,
        auxiliary::text,
        source,
        as_of,
        fetched_at,
        snapshot_id::text,
        trace_id::text`

	getRawQuoteSQL = `SELECT ` + rawQuoteColumns + `
    FROM raw_quotes
    WHERE date = $1;`

	listRawQuotesSQL = `SELECT ` + rawQuoteColumns + `
    FROM raw_quotes
    WHERE date >= $1
      AND date <= $2
    ORDER BY date;`

	upsertMetricsSQL = `INSERT INTO daily_metrics (
        date,
        me4u, iou2, uome,
        invariant, deviation, state,
        distance_me4u, distance_iou2, distance_uome,
        relpath_me4u, relpath_iou2, relpath_uome,
        vol_me4u, vol_iou2, vol_uome,
        winner, winner_reason,
        snapshot_id, compute_id, trace_id,
        computed_at
    ) VALUES (
        $1,
        $2::numeric,$3::numeric,$4::numeric,
        $5::numeric,$6::numeric,$7,
        $8::numeric,$9::numeric,$10::numeric,
        $11::numeric,$12::numeric,$13::numeric,
        $14::numeric,$15::numeric,$16::numeric,
        $17,$18::jsonb,
        $19::uuid,$20::uuid,$21::uuid,
        $22
    )
    ON CONFLICT (date) DO UPDATE
    SET
        me4u          = EXCLUDED.me4u,
        iou2          = EXCLUDED.iou2,
        uome          = EXCLUDED.uome,
        invariant     = EXCLUDED.invariant,
        deviation     = EXCLUDED.deviation,
        state         = EXCLUDED.state,
        distance_me4u = EXCLUDED.distance_me4u,
        distance_iou2 = EXCLUDED.distance_iou2,
        distance_uome = EXCLUDED.distance_uome,
        relpath_me4u  = EXCLUDED.relpath_me4u,
        relpath_iou2  = EXCLUDED.relpath_iou2,
        relpath_uome  = EXCLUDED.relpath_uome,
        vol_me4u      = EXCLUDED.vol_me4u,
        vol_iou2      = EXCLUDED.vol_iou2,
        vol_uome      = EXCLUDED.vol_uome,
        winner        = EXCLUDED.winner,
        winner_reason = EXCLUDED.winner_reason,
        snapshot_id   = EXCLUDED.snapshot_id,
        compute_id    = EXCLUDED.compute_id,
        trace_id      = EXCLUDED.trace_id,
        computed_at   = EXCLUDED.computed_at;`

	metricsColumns = `date,
        me4u::text, iou2::text, uome::text,
        invariant::text,
        relpath_me4u::text, relpath_iou2::text, relpath_uome::text,
        vol_me4u::text, vol_iou2::text, vol_uome::text,
        winner, winner_reason::text,
        snapshot_id::text, compute_id::text, trace_id::text,
        computed_at`

	getMetricsSQL = `SELECT ` + metricsColumns + `
    FROM daily_metrics
    WHERE date = $1;`

	latestMetricsBeforeSQL = `SELECT ` + metricsColumns + `
    FROM daily_metrics
    WHERE date < $1
    ORDER BY date DESC
    LIMIT 1;`

	latestMetricsSQL = `SELECT ` + metricsColumns + `
    FROM daily_metrics
    ORDER BY date DESC
    LIMIT 1;`

	listMetricsSQL = `SELECT ` + metricsColumns + `
    FROM daily_metrics
    WHERE date >= $1
      AND date <= $2
    ORDER BY date;`

	listRecentMetricsSQL = `SELECT ` + metricsColumns + `
    FROM daily_metrics
    ORDER BY date DESC
    LIMIT $1;`

	insertAttemptSQL = `INSERT INTO provider_attempts (
        date,
        provider,
        attempt_order,
        success,
        latency_ms,
        error_kind,
        error_message,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	advisoryLockSQL   = `SELECT pg_advisory_lock($1, $2);`
	advisoryUnlockSQL = `SELECT pg_advisory_unlock($1, $2);`
)

// Store implements Repository and DateLocker on PostgreSQL.
type Store struct {
	pool          *pgxpool.Pool
	lockNamespace int32
}

// NewStore wires a pgx pool into a Store. lockNamespace is the first key of
// the per-date advisory lock.
func NewStore(pool *pgxpool.Pool, lockNamespace int32) *Store {
	return &Store{pool: pool, lockNamespace: lockNamespace}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LockDate blocks until the advisory lock for date is held on a dedicated connection.
func (s *Store) LockDate(ctx context.Context, date time.Time) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	key := dateKey(date)
	if _, err := conn.Exec(ctx, advisoryLockSQL, s.lockNamespace, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", date.Format(time.DateOnly), err)
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, s.lockNamespace, key); err != nil {
			// the session lock dies with the connection
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, nil
}

// PutRaw upserts the raw quote for its date.
func (s *Store) PutRaw(ctx context.Context, raw RawQuote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := raw.Validate(); err != nil {
		return err
	}

	aux, err := json.Marshal(raw.Auxiliary)
	if err != nil {
		return fmt.Errorf("encode auxiliary: %w", err)
	}
	if raw.Auxiliary == nil {
		aux = []byte("{}")
	}
	asOf := raw.AsOf
	if asOf.IsZero() {
		asOf = raw.Date
	}

	_, execErr := pool.Exec(ctx, upsertRawQuoteSQL,
		DateOnly(raw.Date),
		string(raw.Basis),
		raw.BasisToA.String(),
		raw.BasisToB.String(),
		string(aux),
		raw.Source,
		DateOnly(asOf),
		raw.FetchedAt,
		raw.SnapshotID.String(),
		raw.TraceID.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert raw quote: %w", execErr)
	}
	return nil
}

// GetRaw loads the raw quote for date or returns ErrNotFound.
func (s *Store) GetRaw(ctx context.Context, date time.Time) (RawQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return RawQuote{}, err
	}
	raw, err := scanRawQuote(pool.QueryRow(ctx, getRawQuoteSQL, DateOnly(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return RawQuote{}, ErrNotFound
	}
	if err != nil {
		return RawQuote{}, fmt.Errorf("get raw quote: %w", err)
	}
	return raw, nil
}

// ListRaw lists raw quotes with from <= date <= to in date order.
func (s *Store) ListRaw(ctx context.Context, from, to time.Time) ([]RawQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRawQuotesSQL, DateOnly(from), DateOnly(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list raw quotes: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]RawQuote, 0)
	for rows.Next() {
		raw, scanErr := scanRawQuote(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, raw)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// PutMetrics replaces the whole derived row for its date.
func (s *Store) PutMetrics(ctx context.Context, m parity.DailyMetrics) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	reason, err := json.Marshal(m.Reason)
	if err != nil {
		return fmt.Errorf("encode winner reason: %w", err)
	}
	distances := m.Distances()

	_, execErr := pool.Exec(ctx, upsertMetricsSQL,
		DateOnly(m.Date),
		m.Rates.ME4U().String(),
		m.Rates.IOU2().String(),
		m.Rates.UOME().String(),
		m.Invariant().String(),
		m.Deviation().String(),
		string(m.State()),
		distances.ME4U.String(),
		distances.IOU2.String(),
		distances.UOME.String(),
		nullableDecimal(m.RelPaths.ME4U),
		nullableDecimal(m.RelPaths.IOU2),
		nullableDecimal(m.RelPaths.UOME),
		nullableDecimal(m.Volatilities.ME4U),
		nullableDecimal(m.Volatilities.IOU2),
		nullableDecimal(m.Volatilities.UOME),
		string(m.Winner),
		string(reason),
		m.SnapshotID.String(),
		m.ComputeID.String(),
		m.TraceID.String(),
		m.ComputedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert daily metrics: %w", execErr)
	}
	return nil
}

// GetMetrics loads the derived row for date or returns ErrNotFound.
func (s *Store) GetMetrics(ctx context.Context, date time.Time) (parity.DailyMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	m, err := scanMetrics(pool.QueryRow(ctx, getMetricsSQL, DateOnly(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return parity.DailyMetrics{}, ErrNotFound
	}
	if err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("get daily metrics: %w", err)
	}
	return m, nil
}

// LatestMetricsBefore returns the row of the most recent date strictly before date.
func (s *Store) LatestMetricsBefore(ctx context.Context, date time.Time) (parity.DailyMetrics, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return parity.DailyMetrics{}, false, err
	}
	m, err := scanMetrics(pool.QueryRow(ctx, latestMetricsBeforeSQL, DateOnly(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return parity.DailyMetrics{}, false, nil
	}
	if err != nil {
		return parity.DailyMetrics{}, false, fmt.Errorf("latest metrics before: %w", err)
	}
	return m, true, nil
}

// LatestMetrics returns the most recent derived row or ErrNotFound.
func (s *Store) LatestMetrics(ctx context.Context) (parity.DailyMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	m, err := scanMetrics(pool.QueryRow(ctx, latestMetricsSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return parity.DailyMetrics{}, ErrNotFound
	}
	if err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("latest metrics: %w", err)
	}
	return m, nil
}

// ListMetrics lists rows with from <= date <= to in date order.
func (s *Store) ListMetrics(ctx context.Context, from, to time.Time) ([]parity.DailyMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMetricsSQL, DateOnly(from), DateOnly(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list metrics: %w", queryErr)
	}
	return collectMetrics(rows, 0)
}

// ListRecentMetrics lists the most recent rows ordered by descending date.
// A non-positive limit yields no rows.
func (s *Store) ListRecentMetrics(ctx context.Context, limit int) ([]parity.DailyMetrics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []parity.DailyMetrics{}, nil
	}

	rows, queryErr := pool.Query(ctx, listRecentMetricsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent metrics: %w", queryErr)
	}
	return collectMetrics(rows, limit)
}

// RecordAttempt appends one provider telemetry row.
func (s *Store) RecordAttempt(ctx context.Context, a provider.Attempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var kind, msg interface{}
	if a.ErrorKind != nil {
		kind = string(*a.ErrorKind)
	}
	if a.ErrorMessage != nil {
		msg = *a.ErrorMessage
	}
	recordedAt := a.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	if _, execErr := pool.Exec(ctx, insertAttemptSQL,
		DateOnly(a.Date),
		a.Provider,
		a.Order,
		a.Success,
		a.Latency.Milliseconds(),
		kind,
		msg,
		recordedAt,
	); execErr != nil {
		return fmt.Errorf("insert provider attempt: %w", execErr)
	}
	return nil
}

func collectMetrics(rows pgx.Rows, capacity int) ([]parity.DailyMetrics, error) {
	defer rows.Close()

	out := make([]parity.DailyMetrics, 0, capacity)
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRawQuote(row pgx.Row) (RawQuote, error) {
	var (
		date        time.Time
		basis       string
		aStr, bStr  string
		auxStr      string
		source      string
		asOf        time.Time
		fetchedAt   time.Time
		snapshotStr string
		traceStr    string
	)
	if err := row.Scan(
		&date,
		&basis,
		&aStr,
		&bStr,
		&auxStr,
		&source,
		&asOf,
		&fetchedAt,
		&snapshotStr,
		&traceStr,
	); err != nil {
		return RawQuote{}, err
	}

	parsedBasis, err := parity.ParseBasis(basis)
	if err != nil {
		return RawQuote{}, err
	}
	a, err := decimal.NewFromString(aStr)
	if err != nil {
		return RawQuote{}, fmt.Errorf("parse basis_to_a: %w", err)
	}
	b, err := decimal.NewFromString(bStr)
	if err != nil {
		return RawQuote{}, fmt.Errorf("parse basis_to_b: %w", err)
	}
	aux := make(map[string]decimal.Decimal)
	if err := json.Unmarshal([]byte(auxStr), &aux); err != nil {
		return RawQuote{}, fmt.Errorf("parse auxiliary: %w", err)
	}
	snapshotID, err := uuid.Parse(snapshotStr)
	if err != nil {
		return RawQuote{}, fmt.Errorf("parse snapshot id: %w", err)
	}
	traceID, err := uuid.Parse(traceStr)
	if err != nil {
		return RawQuote{}, fmt.Errorf("parse trace id: %w", err)
	}

	return RawQuote{
		Date:       DateOnly(date),
		Basis:      parsedBasis,
		BasisToA:   a,
		BasisToB:   b,
		Auxiliary:  aux,
		Source:     source,
		AsOf:       DateOnly(asOf),
		FetchedAt:  fetchedAt.UTC(),
		SnapshotID: snapshotID,
		TraceID:    traceID,
	}, nil
}

func scanMetrics(row pgx.Row) (parity.DailyMetrics, error) {
	var (
		date                      time.Time
		me4uStr, iou2Str, uomeStr string
		invariantStr              string
		relME4U, relIOU2, relUOME *string
		volME4U, volIOU2, volUOME *string
		winnerStr                 string
		reasonStr                 string
		snapshotStr, computeStr   string
		traceStr                  string
		computedAt                time.Time
	)
	if err := row.Scan(
		&date,
		&me4uStr, &iou2Str, &uomeStr,
		&invariantStr,
		&relME4U, &relIOU2, &relUOME,
		&volME4U, &volIOU2, &volUOME,
		&winnerStr, &reasonStr,
		&snapshotStr, &computeStr, &traceStr,
		&computedAt,
	); err != nil {
		return parity.DailyMetrics{}, err
	}

	rates, err := restoreRates(me4uStr, iou2Str, uomeStr)
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	invariant, err := decimal.NewFromString(invariantStr)
	if err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("parse invariant: %w", err)
	}
	relpaths, err := parseNullTriple(relME4U, relIOU2, relUOME)
	if err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("parse relpaths: %w", err)
	}
	vols, err := parseNullTriple(volME4U, volIOU2, volUOME)
	if err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("parse volatilities: %w", err)
	}
	winner, err := parity.ParseInstrument(winnerStr)
	if err != nil {
		return parity.DailyMetrics{}, err
	}
	var reason parity.WinnerReason
	if err := json.Unmarshal([]byte(reasonStr), &reason); err != nil {
		return parity.DailyMetrics{}, fmt.Errorf("parse winner reason: %w", err)
	}

	ids := make([]uuid.UUID, 3)
	for i, raw := range []string{snapshotStr, computeStr, traceStr} {
		if ids[i], err = uuid.Parse(raw); err != nil {
			return parity.DailyMetrics{}, fmt.Errorf("parse identifier: %w", err)
		}
	}

	return parity.RestoreDailyMetrics(parity.DailyMetrics{
		Date:         DateOnly(date),
		Rates:        rates,
		RelPaths:     relpaths,
		Volatilities: vols,
		Winner:       winner,
		Reason:       reason,
		SnapshotID:   ids[0],
		ComputeID:    ids[1],
		TraceID:      ids[2],
		ComputedAt:   computedAt.UTC(),
	}, invariant)
}

func restoreRates(me4uStr, iou2Str, uomeStr string) (parity.Rates, error) {
	values := make([]decimal.Decimal, 3)
	for i, raw := range []string{me4uStr, iou2Str, uomeStr} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return parity.Rates{}, fmt.Errorf("parse rate: %w", err)
		}
		values[i] = v
	}
	return parity.RestoreRates(values[0], values[1], values[2])
}

func parseNullTriple(me4u, iou2, uome *string) (parity.NullTriple, error) {
	out := make([]decimal.NullDecimal, 3)
	for i, raw := range []*string{me4u, iou2, uome} {
		if raw == nil {
			continue
		}
		v, err := decimal.NewFromString(*raw)
		if err != nil {
			return parity.NullTriple{}, err
		}
		out[i] = decimal.NewNullDecimal(v)
	}
	return parity.NullTriple{ME4U: out[0], IOU2: out[1], UOME: out[2]}, nil
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// dateKey maps a date onto the second advisory lock key, e.g. 20260115.
func dateKey(date time.Time) int32 {
	y, m, d := date.UTC().Date()
	return int32(y*10000 + int(m)*100 + d)
}

var (
	_ Repository = (*Store)(nil)
	_ DateLocker = (*Store)(nil)
)
