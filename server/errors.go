package server

import (
	"errors"

	"github.com/crmarques/reconctl/faults"
)

// ListPayloadShapeError marks snapshot list responses whose shape does not
// match the expected item array.
type ListPayloadShapeError struct {
	err error
}

func (e *ListPayloadShapeError) Error() string {
	if e == nil || e.err == nil {
		return "<nil>"
	}
	return e.err.Error()
}

func (e *ListPayloadShapeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func NewListPayloadShapeError(message string, cause error) error {
	return &ListPayloadShapeError{
		err: faults.NewTypedError(faults.ValidationError, message, cause),
	}
}

func IsListPayloadShapeError(err error) bool {
	var target *ListPayloadShapeError
	return errors.As(err, &target)
}

// IsNotFound reports whether a remote operation failed because the target
// resource does not exist on the server.
func IsNotFound(err error) bool {
	return faults.IsCategory(err, faults.NotFoundError)
}
