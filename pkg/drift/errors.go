package drift

import (
	"errors"
	"fmt"
)

var (
	// ErrJobFailed matches every *JobError via errors.Is.
	ErrJobFailed = errors.New("drift: job failed")
	// ErrInvalidCron matches every *ParseError via errors.Is.
	ErrInvalidCron = errors.New("drift: invalid cron expression")
)

// JobError reports a failed execution of a Drifter. The inner error is kept
// for diagnostics and is reachable through errors.Unwrap / errors.As.
type JobError struct {
	Err error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return "job failed"
	}
	return "job failed with inner error: " + e.Err.Error()
}

func (e *JobError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrJobFailed) true for any JobError.
func (e *JobError) Is(target error) bool { return target == ErrJobFailed }

// ParseError is returned synchronously by the cron entry points when the
// expression cannot be parsed. No background loop is started in that case.
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("drift: parse cron expression %q: %v", e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidCron) true for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrInvalidCron }

// PanicError carries the value recovered from a panicking Drifter.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("drift: job panicked: %v", e.Value)
}

// asJobError normalises whatever a Drifter returned into a *JobError.
func asJobError(err error) *JobError {
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return &JobError{Err: err}
}
