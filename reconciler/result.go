package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusFailed means every step was attempted and at least one failed.
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

var ErrCanceled = errors.New("apply canceled")

type Failure struct {
	Kind      resource.Kind `json:"kind" yaml:"kind"`
	Operation Operation     `json:"operation" yaml:"operation"`
	Identity  string        `json:"identity" yaml:"identity"`
	Err       error         `json:"-" yaml:"-"`
	Message   string        `json:"error" yaml:"error"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s %q: %v", f.Operation, f.Kind, f.Identity, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type Result struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Kind       resource.Kind `json:"kind" yaml:"kind"`
	Status     Status        `json:"status" yaml:"status"`
	Total      int           `json:"total" yaml:"total"`
	Attempted  int           `json:"attempted" yaml:"attempted"`
	Failures   []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
}

func (r Result) Succeeded() int {
	return r.Attempted - len(r.Failures)
}

// Err summarizes the run as an error: nil on success, *ApplyError after
// partial failure, ErrCanceled when the run stopped early.
func (r Result) Err() error {
	switch r.Status {
	case StatusCanceled:
		return fmt.Errorf("%w after %d of %d %s operations", ErrCanceled, r.Attempted, r.Total, r.Kind)
	case StatusFailed:
		return &ApplyError{Kind: r.Kind, Total: r.Total, Failures: r.Failures}
	default:
		return nil
	}
}

type ApplyError struct {
	Kind     resource.Kind
	Total    int
	Failures []Failure
}

func (e *ApplyError) Error() string {
	if e == nil {
		return "<nil>"
	}

	details := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		details = append(details, failure.Error())
	}
	return fmt.Sprintf("%d of %d %s changes failed: %s", len(e.Failures), e.Total, e.Kind, strings.Join(details, "; "))
}

func (e *ApplyError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure)
	}
	return errs
}

func IsPartialFailure(err error) bool {
	var applyErr *ApplyError
	return errors.As(err, &applyErr)
}

func newFailure(step Step, err error) Failure {
	return Failure{
		Kind:      step.Kind,
		Operation: step.Operation,
		Identity:  step.Identity,
		Err:       err,
		Message:   err.Error(),
	}
}

// FailureCategory returns the fault category of a failure, or InternalError
// when the transport returned an untyped error.
func FailureCategory(failure Failure) faults.ErrorCategory {
	if category, ok := faults.CategoryOf(failure.Err); ok {
		return category
	}
	return faults.InternalError
}
