// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package mperr defines the error taxonomy shared by every package in the
// library. Each failure surfaces as an *Error carrying a stable machine
// code, a human-readable message with remediation guidance, and optional
// structured details.
//
// The serialized form is:
//
//	{
//	  "code": "RATE_LIMITED",
//	  "message": "rate limited by Mixpanel after 5 attempts",
//	  "details": {
//	    "retry_after": 30
//	  }
//	}
//
// Errors never carry credential material. Detail values under
// credential-ish keys are masked on serialization as a second line of
// defense.
package mperr

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
)

// Code identifies an error category. Codes are stable across releases and
// are the contract automation should match on, not message text.
type Code string

// Error codes.
const (
	// CodeConfigError indicates missing or malformed configuration,
	// including unresolvable credentials.
	CodeConfigError Code = "CONFIG_ERROR"

	// CodeAccountNotFound indicates a named account is absent from the
	// accounts file.
	CodeAccountNotFound Code = "ACCOUNT_NOT_FOUND"

	// CodeAccountExists indicates an attempt to add an account under a
	// name already in use.
	CodeAccountExists Code = "ACCOUNT_EXISTS"

	// CodeAuthFailed indicates the remote service rejected the
	// credentials (HTTP 401/403). Never retried.
	CodeAuthFailed Code = "AUTH_FAILED"

	// CodeRateLimited indicates the retry budget was exhausted against
	// HTTP 429 responses. Details carry retry_after when the server
	// provided one.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeQueryFailed indicates the remote service rejected the request
	// (4xx) or a local SQL statement failed.
	CodeQueryFailed Code = "QUERY_FAILED"

	// CodeJQLSyntax indicates the JQL endpoint rejected a script
	// (HTTP 422), with the server's explanation in the message.
	CodeJQLSyntax Code = "JQL_SYNTAX"

	// CodeServerError indicates a remote 5xx that survived the retry
	// budget, or an open circuit breaker.
	CodeServerError Code = "SERVER_ERROR"

	// CodeValidationError indicates invalid arguments detected before
	// any network or storage I/O.
	CodeValidationError Code = "VALIDATION_ERROR"

	// CodeTableExists indicates a create would clobber an existing table.
	CodeTableExists Code = "TABLE_EXISTS"

	// CodeTableNotFound indicates an operation referenced a table that
	// does not exist.
	CodeTableNotFound Code = "TABLE_NOT_FOUND"

	// CodeDatabaseLocked indicates a write-intent open of a database file
	// already held by another process.
	CodeDatabaseLocked Code = "DATABASE_LOCKED"

	// CodeDatabaseNotFound indicates a read-only open of a database file
	// that does not exist.
	CodeDatabaseNotFound Code = "DATABASE_NOT_FOUND"
)

// Error is the library's error type. It implements error, supports
// errors.Is/As through the wrapped cause, and serializes to the
// {code, message, details} shape.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records err as its cause. The cause is
// reachable via errors.Unwrap but excluded from serialization.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Wrapf creates a wrapping Error with a formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithDetail returns e with one detail key set. The receiver is returned
// for chaining; details are lazily allocated.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges the given map into the error's details.
func (e *Error) WithDetails(details map[string]any) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code. This lets
// callers match categories with errors.Is(err, mperr.New(code, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON serializes the error as {code, message, details}. String
// detail values under credential-ish keys are masked.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Code    Code           `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}

	w := wire{Code: e.Code, Message: e.Message}
	if len(e.Details) > 0 {
		w.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			if s, ok := v.(string); ok {
				w.Details[k] = logging.SanitizeValue(k, s)
			} else {
				w.Details[k] = v
			}
		}
	}
	return json.Marshal(w)
}

// CodeOf extracts the Code from err, unwrapping as needed. Errors outside
// the taxonomy report an empty Code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
