package interview

import (
	"errors"
	"fmt"
)

// Error taxonomy. Recoverable errors (validation, provider) are absorbed by
// the engine and become retry or fallback messages; only configuration and
// store errors cross the engine boundary.

// ConfigurationError means the interview cannot start: missing persona,
// missing template, missing credentials. Unrecoverable.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StoreError means the session snapshot could not be read or committed. The
// transition is not applied and the caller must retry the whole call.
type StoreError struct {
	Op  string // load or save
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrSessionClosed is returned when Advance is called on a terminal session.
var ErrSessionClosed = errors.New("interview session is closed")
