package jobs

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/explain"
	"github.com/modelproof/xaibench/internal/store"
)

var (
	// ErrModelNotFound means the submitted model ID is not registered.
	ErrModelNotFound = eris.New("jobs: model not found")
	// ErrDatasetNotFound means the model references a dataset that is gone.
	ErrDatasetNotFound = eris.New("jobs: dataset not found")
	// ErrJobNotFound means the polled job ID does not exist.
	ErrJobNotFound = eris.New("jobs: job not found")
	// ErrAlreadyTerminal rejects cancellation of a finished job.
	ErrAlreadyTerminal = eris.New("jobs: job already terminal")
)

// Error classes carried on failed jobs. The API layer maps these to
// response payloads without parsing error strings.
const (
	ClassModelNotFound      = "model_not_found"
	ClassDatasetNotFound    = "dataset_not_found"
	ClassUnsupportedMethod  = "unsupported_method"
	ClassInstanceOutOfRange = "instance_out_of_range"
	ClassAttributionFailed  = "attribution_failed"
	ClassStorageFailed      = "storage_failed"
	ClassCancelled          = "cancelled"
)

// classify maps a job execution error to its taxonomy class.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrModelNotFound), errors.Is(err, store.ErrNotFound):
		return ClassModelNotFound
	case errors.Is(err, explain.ErrUnsupportedMethod):
		return ClassUnsupportedMethod
	case errors.Is(err, explain.ErrInstanceOutOfRange):
		return ClassInstanceOutOfRange
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancelled
	default:
		return ClassAttributionFailed
	}
}
