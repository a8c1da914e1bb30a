package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrRateNotAvailable is returned when the cache holds no rate for the
	// current interval, before the first refresh or on a data gap.
	ErrRateNotAvailable = errors.New("rate not available")
	ErrClosed           = errors.New("coordinator closed")
)

// RefreshFailedError wraps whatever made a refresh fail. The cache is left
// as it was.
type RefreshFailedError struct {
	Cause error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("refresh failed: %v", e.Cause)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Cause
}
