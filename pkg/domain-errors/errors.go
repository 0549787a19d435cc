// Package domainerrors defines coded errors shared by services and transports.
//
// Services return these errors; the HTTP layer maps the code to a status and
// an error envelope. Infrastructure code returns pkg/platform/sentinel errors
// instead, and services translate them at the boundary.
package domainerrors

import "errors"

// Code identifies a class of domain failure. Codes are stable and appear in
// API responses.
type Code string

const (
	CodeBadRequest      Code = "bad_request"
	CodeValidation      Code = "validation_error"
	CodeInvalidInput    Code = "invalid_input"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodePayloadTooLarge Code = "payload_too_large"
	CodeTimeout         Code = "timeout"
	CodeRateLimited     Code = "rate_limited"
	CodeUnavailable     Code = "unavailable"
	CodeInternal        Code = "internal_error"

	// Verification workflow codes.
	CodeEmptyLabel     Code = "empty_label"
	CodeOutOfOrder     Code = "out_of_order"
	CodeNoMatch        Code = "no_match"
	CodeDeliveryFailed Code = "delivery_failed"
	CodeStoreFailed    Code = "store_failed"
	CodeEmptyReason    Code = "empty_reason"
)

// Error is a coded domain error. Err, when set, is the underlying cause and is
// never rendered to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// As returns the outermost coded error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
