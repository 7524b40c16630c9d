package service

import (
	"errors"
	"fmt"

	"github.com/YubinShin/creverse/internal/media"
	"github.com/YubinShin/creverse/internal/repository"
)

// Processing phases, in execution order. PhaseWorker labels the terminating
// log row written for every run.
const (
	PhaseMarkProcessing = "mark-processing"
	PhaseMedia          = "media"
	PhaseVerify         = "verify"
	PhaseEvaluate       = "evaluate"
	PhasePersist        = "persist"
	PhaseWorker         = "worker"
)

// ErrorKind classifies a processing failure for retry decisions.
type ErrorKind string

const (
	// ErrorKindInput failures will fail again on redelivery.
	ErrorKindInput ErrorKind = "input"
	// ErrorKindTransient failures come from external tools or services.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPersistence failures come from the database.
	ErrorKindPersistence ErrorKind = "persistence"
)

var (
	// ErrMissingVideoPath indicates a process job without an input video.
	ErrMissingVideoPath = errors.New("missing input video path")
	// ErrVideoNotFound indicates the input video is not on local disk.
	ErrVideoNotFound = errors.New("input video not found")
)

// ProcessingError is returned by the processor for every failed phase.
type ProcessingError struct {
	Phase   string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Retryable reports whether redelivering the job can succeed.
func (e *ProcessingError) Retryable() bool {
	return e.Kind != ErrorKindInput
}

// IsInputError reports whether err carries an input ProcessingError.
func IsInputError(err error) bool {
	var perr *ProcessingError
	return errors.As(err, &perr) && perr.Kind == ErrorKindInput
}

func classify(phase string, err error) *ProcessingError {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr
	}

	kind := ErrorKindTransient
	switch {
	case errors.Is(err, ErrMissingVideoPath),
		errors.Is(err, ErrVideoNotFound),
		errors.Is(err, repository.ErrSubmissionNotFound),
		errors.Is(err, media.ErrFrameTooSmall),
		errors.Is(err, media.ErrInvalidStreamInfo):
		kind = ErrorKindInput
	case phase == PhaseMarkProcessing || phase == PhasePersist:
		kind = ErrorKindPersistence
	}

	return &ProcessingError{Phase: phase, Kind: kind, Message: err.Error(), Err: err}
}
