package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is active.
	ErrAlreadyRunning = errors.New("crawl already running")
	// ErrCountryRequired is returned by SetCountry for a blank code.
	ErrCountryRequired = errors.New("countryCode is required")

	errSuperseded = errors.New("crawl state superseded")
)

// NetworkError is a transport failure talking to the nomenclature API.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-success response from the nomenclature API.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("nomenclature API returned HTTP %d", e.Status)
}

// ParseError is a malformed response payload.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError is a state persistence failure. It is logged, never fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("state %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
