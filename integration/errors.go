package integration

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means setup could not complete because the remote API was
	// unavailable or answered unexpectedly. The host should retry later.
	ErrNotReady = errors.New("integration not ready")

	// ErrInvalidConfig means the configuration can never work, retrying is
	// pointless until it is changed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCannotConnect is the outcome of a failed input validation.
	ErrCannotConnect = errors.New("cannot connect")
)

type NotReadyError struct {
	Stage string
	Cause error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNotReady, e.Stage, e.Cause)
}

func (e *NotReadyError) Unwrap() error {
	return e.Cause
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}
