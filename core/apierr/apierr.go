// Package apierr models request-facing errors and their HTTP rendering.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/validation"
)

// Kind classifies a request failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindStore      Kind = "store"
)

// Error is a request failure with its HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	Message string

	// Validation holds field failures of validation errors.
	Validation []schema.ConstraintError

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest reports invalid input (400).
func BadRequest(message string, err error) *Error {
	e := &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Err: err}
	var vErr *validation.Error
	if errors.As(err, &vErr) {
		e.Validation = vErr.Result.Errors
	}
	return e
}

// NotFound reports an absent record (404).
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

// Forbidden reports a rejected write such as a duplicate key (403).
func Forbidden(message string, err error) *Error {
	return &Error{Kind: KindConflict, Status: http.StatusForbidden, Message: message, Err: err}
}

// Internal reports a store failure (500).
func Internal(message string, err error) *Error {
	return &Error{Kind: KindStore, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// From converts any error into an *Error. Unknown errors become 500s
// carrying their message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var vErr *validation.Error
	if errors.As(err, &vErr) {
		return BadRequest(vErr.Error(), vErr)
	}
	return Internal(err.Error(), err)
}

// Body is the JSON error body.
type Body struct {
	StatusCode int                      `json:"statusCode"`
	Error      string                   `json:"error"`
	Message    string                   `json:"message"`
	Validation []schema.ConstraintError `json:"validation,omitempty"`
}

// Body renders the error for the wire. Internal causes are not exposed.
func (e *Error) Body() Body {
	return Body{
		StatusCode: e.Status,
		Error:      http.StatusText(e.Status),
		Message:    e.Message,
		Validation: e.Validation,
	}
}
