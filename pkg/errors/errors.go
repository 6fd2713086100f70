// Unified error handling for the scopectl host
//
// Every failure in the core falls into one of three recoverable
// categories: transport (connection, write, timeout), protocol (response
// did not parse), and validation (caller-supplied value outside the legal
// domain). Nothing here is fatal to the process; boundary layers convert
// errors to a success flag plus a log line.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Transport errors - recoverable by retry or reconnect
	ErrTransportConn    ErrorCode = "TRANSPORT_CONN"
	ErrTransportWrite   ErrorCode = "TRANSPORT_WRITE"
	ErrTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"

	// Protocol errors - a response did not parse as the expected type
	ErrProtocolParse ErrorCode = "PROTOCOL_PARSE"

	// Validation errors - caller-supplied value outside the legal domain
	ErrValidationRange ErrorCode = "VALIDATION_RANGE"
	ErrValidationEnum  ErrorCode = "VALIDATION_ENUM"
	ErrValidationKind  ErrorCode = "VALIDATION_KIND"

	// Runtime errors - host-side coordination failures
	ErrBusy ErrorCode = "BUSY"
)

// ScopeError is the unified error type for the host system
type ScopeError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Field is the settings field involved, if any
	Field string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *ScopeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ScopeError) Unwrap() error {
	return e.Err
}

// SetField records the settings field the error relates to
func (e *ScopeError) SetField(field string) *ScopeError {
	e.Field = field
	return e
}

// New creates a new ScopeError
func New(code ErrorCode, message string) *ScopeError {
	return &ScopeError{Code: code, Message: message}
}

// Wrap wraps an existing error with a category and message
func Wrap(err error, code ErrorCode, message string) *ScopeError {
	return &ScopeError{Code: code, Message: message, Err: err}
}

// Transport errors

// ConnError creates an error for a failed connect or a command issued
// while disconnected
func ConnError(resource, reason string) *ScopeError {
	return New(ErrTransportConn, fmt.Sprintf("connection to %s: %s", resource, reason))
}

// WriteError creates an error for a failed command write
func WriteError(cmd string, err error) *ScopeError {
	return Wrap(err, ErrTransportWrite, fmt.Sprintf("write %q failed", cmd))
}

// TimeoutError creates an error for a timed-out read
func TimeoutError(cmd string) *ScopeError {
	return New(ErrTransportTimeout, fmt.Sprintf("no response to %q before timeout", cmd))
}

// Protocol errors

// ParseError creates an error for an unparseable instrument response
func ParseError(raw, wanted string) *ScopeError {
	return New(ErrProtocolParse, fmt.Sprintf("response %q did not parse as %s", raw, wanted))
}

// Validation errors

// RangeError creates an error for a value outside its legal range
func RangeError(field string, value, min, max float64) *ScopeError {
	return New(ErrValidationRange,
		fmt.Sprintf("value %g out of range [%g, %g]", value, min, max)).SetField(field)
}

// EnumError creates an error for a value outside an enumerated set
func EnumError(field, value string, allowed []string) *ScopeError {
	return New(ErrValidationEnum,
		fmt.Sprintf("value %q not one of %v", value, allowed)).SetField(field)
}

// KindError creates an error for a value whose wire type does not match
// the field it is being pushed to
func KindError(field, got, want string) *ScopeError {
	return New(ErrValidationKind,
		fmt.Sprintf("%s value for %s field", got, want)).SetField(field)
}

// BusyError creates an error for an operation rejected because a
// synchronization is already in progress
func BusyError(what string) *ScopeError {
	return New(ErrBusy, fmt.Sprintf("%s already in progress", what))
}

// Is checks if an error matches the given error code
func Is(err error, code ErrorCode) bool {
	var se *ScopeError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	return Is(err, ErrTransportConn) ||
		Is(err, ErrTransportWrite) ||
		Is(err, ErrTransportTimeout)
}

// IsProtocol checks if an error is a protocol error
func IsProtocol(err error) bool {
	return Is(err, ErrProtocolParse)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return Is(err, ErrValidationRange) ||
		Is(err, ErrValidationEnum) ||
		Is(err, ErrValidationKind)
}

// IsBusy checks if an error is a busy rejection
func IsBusy(err error) bool {
	return Is(err, ErrBusy)
}
