package probe

import (
	"errors"
	"fmt"
)

// ValidationError drops a probe for the current environment or browser.
// The session continues with the remaining probes.
type ValidationError struct {
	Probe  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("probe %s: %s", e.Probe, e.Reason)
}

func NewValidationError(probe, format string, args ...any) *ValidationError {
	return &ValidationError{Probe: probe, Reason: fmt.Sprintf(format, args...)}
}

// IncompatibleBrowserError is a ValidationError for a browser or platform
// the probe cannot instrument at all.
type IncompatibleBrowserError struct {
	ValidationError
	Browser string
}

func (e *IncompatibleBrowserError) Error() string {
	return fmt.Sprintf("probe %s is incompatible with browser %s: %s", e.Probe, e.Browser, e.Reason)
}

func (e *IncompatibleBrowserError) Unwrap() error {
	return &e.ValidationError
}

func NewIncompatibleBrowserError(probe, browser, format string, args ...any) *IncompatibleBrowserError {
	return &IncompatibleBrowserError{
		ValidationError: ValidationError{Probe: probe, Reason: fmt.Sprintf(format, args...)},
		Browser:         browser,
	}
}

// MissingDataError is returned from tear down when a probe produced nothing.
type MissingDataError struct {
	Probe  string
	Reason string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("probe %s produced no data: %s", e.Probe, e.Reason)
}

// TimeoutError marks a degraded result: a helper process did not exit in
// time and its data may be incomplete.
type TimeoutError struct {
	Probe string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("probe %s timed out: %v", e.Probe, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StateError reports a lifecycle call from a state that does not allow it.
type StateError struct {
	Probe string
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("probe %s: %s is not allowed in state %s", e.Probe, e.Op, e.State)
}

// ArgumentTypeError is returned for unknown or mistyped probe options.
type ArgumentTypeError struct {
	Probe  string
	Option string
	Reason string
}

func (e *ArgumentTypeError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("probe %s: %s", e.Probe, e.Reason)
	}
	return fmt.Sprintf("probe %s: option %q: %s", e.Probe, e.Option, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsMissingData(err error) bool {
	var m *MissingDataError
	return errors.As(err, &m)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
