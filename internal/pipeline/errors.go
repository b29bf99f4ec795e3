package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline error for event mapping and logging.
type ErrorKind string

const (
	// ErrorKindWorker is an isolated worker failure; siblings continue.
	ErrorKindWorker ErrorKind = "worker"

	// ErrorKindTimeout is a worker exceeding its per-call deadline.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindRateLimit is a provider rejecting a worker for quota
	// reasons. Retryable on a future run, never retried within a job.
	ErrorKindRateLimit ErrorKind = "rate_limit"

	// ErrorKindStageAbort means the pipeline cannot continue past the
	// current stage and the run ends with a fatal_error event.
	ErrorKindStageAbort ErrorKind = "stage_abort"

	// ErrorKindCancellation is a cooperative cancellation of the run.
	ErrorKindCancellation ErrorKind = "cancellation"

	// ErrorKindValidation covers bad submissions and registry shape
	// problems detected before any worker starts.
	ErrorKindValidation ErrorKind = "validation"
)

// PipelineError is the error type produced inside a run. Worker names the
// failing worker when the error is attributable to one.
type PipelineError struct {
	Kind      ErrorKind `json:"kind"`
	Worker    string    `json:"worker,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	if e.Worker != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Worker, e.Message)
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewWorkerError creates an isolated worker failure.
func NewWorkerError(worker string, cause error) *PipelineError {
	msg := "worker failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &PipelineError{
		Kind:    ErrorKindWorker,
		Worker:  worker,
		Message: msg,
		Cause:   cause,
	}
}

// NewTimeoutError creates a per-worker timeout failure.
func NewTimeoutError(worker string, timeout string) *PipelineError {
	return &PipelineError{
		Kind:      ErrorKindTimeout,
		Worker:    worker,
		Message:   fmt.Sprintf("worker exceeded timeout of %s", timeout),
		Retryable: true,
	}
}

// NewRateLimitError creates a provider quota failure for a worker.
func NewRateLimitError(worker string, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrorKindRateLimit,
		Worker:    worker,
		Message:   "provider rate limit exceeded",
		Cause:     cause,
		Retryable: true,
	}
}

// NewStageAbortError creates a fatal stage-level failure.
func NewStageAbortError(stage, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    ErrorKindStageAbort,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// NewCancellationError creates a cooperative cancellation error.
func NewCancellationError(stage string) *PipelineError {
	return &PipelineError{
		Kind:    ErrorKindCancellation,
		Stage:   stage,
		Message: "run was cancelled",
	}
}

// NewValidationError creates a pre-run validation error.
func NewValidationError(message string) *PipelineError {
	return &PipelineError{
		Kind:    ErrorKindValidation,
		Message: message,
	}
}

// IsRetryable reports whether the error hints that a future run could
// succeed. Nothing is retried within a running job.
func IsRetryable(err error) bool {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}

// KindOf returns the classification of the error, defaulting to worker.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return ErrorKindWorker
}

// WrapWorkerError attributes err to a worker, preserving an existing
// classification when err is already a PipelineError.
func WrapWorkerError(err error, worker string) *PipelineError {
	if err == nil {
		return nil
	}
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		if pErr.Worker == "" {
			pErr.Worker = worker
		}
		return pErr
	}
	return NewWorkerError(worker, err)
}

// Common pipeline errors
var (
	// ErrNoAnalysts is returned when a run is requested with no
	// registered analyst workers.
	ErrNoAnalysts = &PipelineError{
		Kind:    ErrorKindValidation,
		Message: "no analyst workers registered",
	}

	// ErrNoRiskWorker is returned when the risk stage has no worker.
	ErrNoRiskWorker = &PipelineError{
		Kind:    ErrorKindValidation,
		Message: "no risk worker registered",
	}

	// ErrNoDecisionWorker is returned when the decision stage has no worker.
	ErrNoDecisionWorker = &PipelineError{
		Kind:    ErrorKindValidation,
		Message: "no decision worker registered",
	}
)
