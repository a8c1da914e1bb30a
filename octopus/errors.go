package octopus

import (
	"errors"
	"fmt"
)

var (
	// ErrProductDiscovery means no export product was listed or the product
	// lacks a tariff for one of the regions.
	ErrProductDiscovery = errors.New("product discovery failed")
	ErrTimeout          = errors.New("octopus api request timed out")
)

type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// DecodeError is returned for malformed JSON or missing fields.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
