package engine

import (
	"errors"
	"fmt"
	"time"

	"fxtriangle/internal/parity"
	"fxtriangle/internal/provider"
	"fxtriangle/internal/storage"
)

// Stage names the pipeline step a date failed in.
type Stage string

const (
	StageAcquire        Stage = "acquire"
	StageLock           Stage = "lock"
	StagePersistRaw     Stage = "persist_raw"
	StageCompute        Stage = "compute"
	StagePersistDerived Stage = "persist_derived"
)

// StageError is the structured failure of one date.
type StageError struct {
	Date  time.Time
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Date.Format(time.DateOnly), e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind reports the underlying failure class.
func (e *StageError) Kind() string {
	var (
		agg *provider.AggregateError
		pe  *provider.Error
		dim *parity.DimensionalAnalysisError
	)
	switch {
	case errors.As(e.Err, &agg):
		return "aggregate_acquisition"
	case errors.As(e.Err, &dim):
		return "dimensional_analysis"
	case errors.Is(e.Err, parity.ErrInvariantMismatch):
		return "invariant_mismatch"
	case errors.As(e.Err, &pe):
		return string(pe.Kind)
	case errors.Is(e.Err, storage.ErrNotFound):
		return "not_found"
	case e.Stage == StagePersistRaw || e.Stage == StagePersistDerived || e.Stage == StageLock:
		return "storage"
	default:
		return "unknown"
	}
}

func stageErr(date time.Time, stage Stage, err error) *StageError {
	return &StageError{Date: date, Stage: stage, Err: err}
}
