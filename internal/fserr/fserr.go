// Package fserr defines the error codes returned by filesystem verbs.
//
// Codes are part of the external contract: callers match on them for
// programmatic handling, so their string values never change.
package fserr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	RecordNotFound               Code = "RECORD_NOT_FOUND"
	FieldNotFound                Code = "FIELD_NOT_FOUND"
	SchemaNotFound               Code = "SCHEMA_NOT_FOUND"
	NotAFile                     Code = "NOT_A_FILE"
	SchemaWildcardNotSupported   Code = "SCHEMA_WILDCARD_NOT_SUPPORTED"
	UUIDWildcardNotSupported     Code = "UUID_WILDCARD_NOT_SUPPORTED"
	PartialReadUnsupported       Code = "PARTIAL_READ_UNSUPPORTED"
	NestedPropertiesNotSupported Code = "NESTED_PROPERTIES_NOT_SUPPORTED"
	PermissionDenied             Code = "PERMISSION_DENIED"
	RecordExists                 Code = "RECORD_EXISTS"
	RequestInvalidFormat         Code = "REQUEST_INVALID_FORMAT"
	InvalidListPath              Code = "INVALID_LIST_PATH"
	UnsupportedListPath          Code = "UNSUPPORTED_LIST_PATH"
	UnsupportedPathType          Code = "UNSUPPORTED_PATH_TYPE"

	// Internal is used for infrastructure failures (database, network).
	Internal Code = "INTERNAL_ERROR"
)

// Kind is the error category a code belongs to.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

var kinds = map[Code]Kind{
	RecordNotFound:               KindNotFound,
	FieldNotFound:                KindNotFound,
	SchemaNotFound:               KindNotFound,
	NotAFile:                     KindBadRequest,
	SchemaWildcardNotSupported:   KindBadRequest,
	UUIDWildcardNotSupported:     KindBadRequest,
	PartialReadUnsupported:       KindBadRequest,
	NestedPropertiesNotSupported: KindBadRequest,
	RequestInvalidFormat:         KindBadRequest,
	InvalidListPath:              KindBadRequest,
	UnsupportedListPath:          KindBadRequest,
	UnsupportedPathType:          KindBadRequest,
	PermissionDenied:             KindForbidden,
	RecordExists:                 KindConflict,
	Internal:                     KindInternal,
}

// Error is a domain error carrying a stable code.
type Error struct {
	Code    Code
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the category of the error code.
func (e *Error) Kind() Kind {
	return kinds[e.Code]
}

// HTTPStatus maps the error category to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind() {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error with the given code.
func New(code Code, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an infrastructure error as INTERNAL_ERROR unless it already
// carries a domain code.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Code: Internal, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of err, or Internal when err is not a domain error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// As returns err as a domain error, converting unknown errors to Internal.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Code: Internal, Message: err.Error(), Err: err}
}
