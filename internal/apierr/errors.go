// Package apierr defines the typed error kinds surfaced across the
// registration engine (spec §7) and a single JSON envelope so every facade
// handler reports failures the same way, instead of the ad hoc
// map[string]string literals the teacher's handlers built by hand.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	NotFound             Kind = "NOT_FOUND"
	PrerequisiteMissing  Kind = "PREREQUISITE_MISSING"
	AlreadyEnrolled      Kind = "ALREADY_ENROLLED"
	AlreadyWaitlisted    Kind = "ALREADY_WAITLISTED"
	SeatTaken            Kind = "SEAT_TAKEN"
	InvalidSeatLabel     Kind = "INVALID_SEAT_LABEL"
	BookingClosed        Kind = "BOOKING_CLOSED"
	BookingAlreadyOpen   Kind = "BOOKING_ALREADY_OPEN"
	CapacityExceeded     Kind = "CAPACITY_EXCEEDED"
	ConfigurationInvalid Kind = "CONFIGURATION_INVALID"
	Conflict             Kind = "CONFLICT"
	Timeout              Kind = "TIMEOUT"
	Internal             Kind = "INTERNAL"
)

// httpStatus maps each Kind to the HTTP status the facade should answer with.
var httpStatus = map[Kind]int{
	NotFound:             http.StatusNotFound,
	PrerequisiteMissing:  http.StatusUnprocessableEntity,
	AlreadyEnrolled:      http.StatusConflict,
	AlreadyWaitlisted:    http.StatusConflict,
	SeatTaken:            http.StatusConflict,
	InvalidSeatLabel:     http.StatusBadRequest,
	BookingClosed:        http.StatusConflict,
	BookingAlreadyOpen:   http.StatusConflict,
	CapacityExceeded:     http.StatusConflict,
	ConfigurationInvalid: http.StatusInternalServerError,
	Conflict:             http.StatusConflict,
	Timeout:              http.StatusGatewayTimeout,
	Internal:             http.StatusInternalServerError,
}

// Error is the error type every registration-engine operation returns on
// failure. It satisfies the standard error interface and unwraps to Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, or reports ok=false if err is not one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus resolves the status code for err, defaulting to 500 when err
// is not a typed *Error.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		if status, found := httpStatus[e.Kind]; found {
			return status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the machine code to surface in the JSON body, defaulting to
// Internal for untyped errors.
func Code(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Message extracts a human-readable message, falling back to err.Error().
func Message(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return err.Error()
}
