package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing component boundaries.
type ErrorKind string

const (
	// KindInvalidInput marks malformed caller input: bad symbols, reversed
	// date ranges, unsorted bar series. Fails fast, never persisted.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindNotFound means the upstream has no such symbol or no data.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited means the upstream throttled us.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers network failures and timeouts.
	KindTransient ErrorKind = "transient"
	// KindProviderInvalid means the upstream payload could not be parsed.
	KindProviderInvalid ErrorKind = "provider_invalid"
	// KindIntegrityConflict means a concurrent writer hit a uniqueness key.
	KindIntegrityConflict ErrorKind = "integrity_conflict"
	// KindStrategyReject marks a backtest intent refused for insufficient
	// cash. Logged in the trade log, not an error for the run.
	KindStrategyReject ErrorKind = "strategy_reject"
	// KindInternalAssert marks an invariant breach. The run aborts.
	KindInternalAssert ErrorKind = "internal_assert"
)

// Error is the structured error crossing the engine boundary.
type Error struct {
	Kind      ErrorKind
	Symbol    string
	Window    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Symbol != "" {
		msg += " " + e.Symbol
	}
	if e.Window != "" {
		msg += " [" + e.Window + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind so callers can use errors.Is with sentinel
// kinds without caring about symbol/window fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a classified error. Retryable is derived from the kind;
// IntegrityConflict gets a single retry at the call site rather than the
// backoff loop.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{
		Kind:      kind,
		Retryable: kind == KindTransient || kind == KindRateLimited,
		Err:       err,
	}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Errorf(format, args...))
}

// Assertf builds an InternalAssert error.
func Assertf(format string, args ...any) *Error {
	return Errorf(KindInternalAssert, format, args...)
}

// WithSymbol annotates an error with the offending symbol.
func (e *Error) WithSymbol(symbol string) *Error {
	e.Symbol = symbol
	return e
}

// WithWindow annotates an error with the date window being processed.
func (e *Error) WithWindow(window string) *Error {
	e.Window = window
	return e
}

// KindOf extracts the kind from any error chain. Unclassified errors map
// to Transient so the retry policy errs on the side of retrying I/O.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the retry/backoff loop should re-attempt.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
