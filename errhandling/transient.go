package errhandling

import (
	"errors"
	"fmt"
)

type transientError struct {
	desc string
	err  error
}

func (e *transientError) Error() string {
	return e.desc + ": " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// NewTransientError marks err as transient: the operation had no visible
// effect and repeating it from the start is safe. Whether to repeat it is up
// to the caller.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{
		desc: "transient error",
		err:  err,
	}
}

func NewTransientErrorf(format string, a ...any) error {
	return NewTransientError(fmt.Errorf(format, a...))
}

// IsTransient returns true if the error was wrapped to indicate its transient.
// If this function returns true it is safe, but not required, to retry the
// operation.
func IsTransient(err error) bool {
	var target *transientError

	return errors.As(err, &target)
}
