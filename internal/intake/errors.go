package intake

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrReportNotFound indicates the session has no compiled report.
	ErrReportNotFound = errors.New("report not found")

	// ErrIncompleteDetails indicates report compilation was requested
	// before all five project details were collected.
	ErrIncompleteDetails = errors.New("project details incomplete")
)

// AdapterError wraps a model provider failure so callers can map it to
// an upstream-failure response distinct from local errors.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("model adapter: %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. Unlike adapter failures,
// these are fatal to the operation that hit them.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
