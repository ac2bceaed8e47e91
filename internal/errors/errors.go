/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors implements the kernel's structured error taxonomy.
//
// Every error the kernel returns across a component boundary is one of four
// kinds (spec §7): Reject, Validation, Runtime, Fatal. Each kind carries a
// default HTTP status so the admission surface can translate it without a
// second mapping table.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an AppError into one of the kernel's four error kinds.
type ErrorType string

const (
	// ErrorTypeReject is returned by the admission gate: the payload is
	// malformed or violates policy. Never retried by the system.
	ErrorTypeReject ErrorType = "reject"
	// ErrorTypeValidation is returned by the compiler, validator, or
	// promotion pipeline: the artifact fails a named invariant.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRuntime is returned by the executor: guard failure,
	// tick-budget breach, cancellation, timeout.
	ErrorTypeRuntime ErrorType = "runtime"
	// ErrorTypeFatal halts admission and requires operator intervention.
	ErrorTypeFatal ErrorType = "fatal"
)

// statusCode mirrors each kind to an HTTP status for the admission surface.
var statusCode = map[ErrorType]int{
	ErrorTypeReject:     400,
	ErrorTypeValidation: 422,
	ErrorTypeRuntime:    409,
	ErrorTypeFatal:      503,
}

// AppError is the kernel's structured error type.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError with no underlying cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCode[t],
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError that carries an underlying cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCode[t],
		Cause:      cause,
	}
}

// Wrapf creates a Wrap-ed AppError with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches extra, non-message detail to the error in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches a formatted detail string in place.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same Type, so callers can
// test kind membership with errors.Is(err, errors.New(ErrorTypeReject, "")).
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Type == other.Type
}

// TypeOf extracts the ErrorType of err, defaulting to ErrorTypeFatal for
// errors the kernel did not itself construct — an un-typed failure is always
// treated as the most severe kind so it fails closed.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeFatal
}

// StatusCode extracts the HTTP status code associated with err.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return statusCode[ErrorTypeFatal]
}
