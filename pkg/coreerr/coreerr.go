// Package coreerr implements the classified error taxonomy shared across
// the booking core and channel sync engine (spec §7). Every boundary-
// facing error carries a stable machine code, a correlation id, and
// enough structured fields for an operator to locate the failing
// event/delivery/booking without leaking internal detail.
package coreerr

import (
	"errors"
	"fmt"
)

// Code is a stable, user/operator-facing error classification.
type Code string

const (
	// User input
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeNotFound       Code = "NOT_FOUND"
	CodeUnknownChannel Code = "UNKNOWN_CHANNEL"

	// Conflict
	CodeConcurrentBooking Code = "CONCURRENT_BOOKING"
	CodeDatesUnavailable  Code = "DATES_UNAVAILABLE"

	// State
	CodeInvalidState        Code = "INVALID_STATE"
	CodePaymentNotVerified  Code = "PAYMENT_NOT_VERIFIED"

	// Integration
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeCircuitOpen      Code = "CIRCUIT_OPEN"
	CodeAdapterTransient Code = "ADAPTER_TRANSIENT"
	CodeAdapterPermanent Code = "ADAPTER_PERMANENT"
	CodeAuthFailed       Code = "AUTH_FAILED"

	// Infrastructure
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodeLockStoreUnavailable Code = "LOCK_STORE_UNAVAILABLE"
	CodeInternal             Code = "INTERNAL"
)

// Error is the classified error type returned across every boundary:
// Booking Core inbound operations, channel adapters, the dispatcher.
type Error struct {
	Code          Code
	Message       string
	CorrelationID string
	Fields        map[string]any
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a classified Error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithField attaches a structured field for operator triage (event id,
// delivery id, booking id, property id, channel).
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

// WithCorrelationID attaches the request/operation correlation id.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// CodeOf extracts the Code from err, or CodeInternal if err is not (or
// does not wrap) a *Error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsConflict reports whether err is a conflict-class error (§7).
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeConcurrentBooking, CodeDatesUnavailable:
		return true
	}
	return false
}

// IsIntegration reports whether err is an integration-class error that the
// dispatcher should swallow into retry/backoff rather than surface to an
// end user (§7 propagation policy).
func IsIntegration(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeCircuitOpen, CodeAdapterTransient, CodeAdapterPermanent, CodeAuthFailed:
		return true
	}
	return false
}

// IsInfrastructure reports whether err is an infrastructure-class error,
// which must be logged with a correlation id and surfaced as a generic
// CodeInternal to end users (no internal detail leaks outward).
func IsInfrastructure(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeLockStoreUnavailable, CodeInternal:
		return true
	}
	return false
}

// Public redacts err down to the fields safe to return to an external
// caller: code and correlation id only.
func (e *Error) Public() map[string]string {
	return map[string]string{
		"code":           string(e.Code),
		"correlation_id": e.CorrelationID,
	}
}
