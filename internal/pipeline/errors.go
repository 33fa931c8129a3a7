package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrStageOrder means a stage was reached without its prerequisites
	ErrStageOrder = errors.New("pipeline: stage out of order")
	// ErrNoDataset means a stage returned no dataset
	ErrNoDataset = errors.New("pipeline: stage returned no dataset")
	// ErrInputModified means a stage changed its input instead of
	// returning a new dataset
	ErrInputModified = errors.New("pipeline: stage modified its input")
	// ErrNoSamples means the run has nothing to process
	ErrNoSamples = errors.New("pipeline: no samples")
)

// StageFailure is returned when a stage fails. Nothing produced by
// the run is kept.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}
