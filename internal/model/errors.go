// Package model holds the error taxonomy and money helpers shared by the
// feed sync and order export code.
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels. Callers branch on these with errors.Is; the typed errors below
// wrap them.
var (
	ErrFeedNotFound         = errors.New("feed not found")
	ErrParse                = errors.New("parse error")
	ErrReconcile            = errors.New("reconcile error")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrRunConflict          = errors.New("run conflict")
	ErrMigrationPending     = errors.New("key migration pending")

	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
)

// Row error codes.
const (
	CodeParseError           = "PARSE_ERROR"
	CodeReconcileError       = "RECONCILE_ERROR"
	CodeVerificationMismatch = "VERIFICATION_MISMATCH"
)

// RowError is a per-row failure. It never aborts a run: callers collect
// it into the ordered error list and move on to the next row.
type RowError struct {
	Code    string
	Line    int    // physical feed line, 0 if unknown
	Key     string // national code when known
	Message string
	Err     error
}

func (e *RowError) Error() string {
	switch {
	case e.Key != "" && e.Line > 0:
		return fmt.Sprintf("line %d [%s]: %s", e.Line, e.Key, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	case e.Key != "":
		return fmt.Sprintf("[%s]: %s", e.Key, e.Message)
	}
	return e.Message
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// NewParseError reports a row that could not be turned into a record.
func NewParseError(line int, reason string) *RowError {
	return &RowError{
		Code:    CodeParseError,
		Line:    line,
		Message: reason,
		Err:     ErrParse,
	}
}

// NewReconcileError reports a failed catalog write for a record.
// The key is kept in the message so operators can find the product.
func NewReconcileError(line int, key string, err error) *RowError {
	msg := "catalog write failed"
	if err != nil {
		msg = fmt.Sprintf("catalog write failed: %v", err)
	}
	return &RowError{
		Code:    CodeReconcileError,
		Line:    line,
		Key:     key,
		Message: msg,
		Err:     fmt.Errorf("%w: %v", ErrReconcile, err),
	}
}

// NewVerificationMismatch reports a write whose read-back disagrees with
// the value that was sent.
func NewVerificationMismatch(line int, key, field, want, got string) *RowError {
	return &RowError{
		Code:    CodeVerificationMismatch,
		Line:    line,
		Key:     key,
		Message: fmt.Sprintf("%s not persisted: wrote %s, read back %s", field, want, got),
		Err:     ErrVerificationMismatch,
	}
}

// APIError is a failed call to the store API, classified by HTTP status.
// Retryable marks failures a later chunk or run may get past.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Retryable  bool   `json:"retryable,omitempty"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(code string, status int, cause error, msg string) *APIError {
	return &APIError{
		Code:       code,
		Message:    msg,
		StatusCode: status,
		Retryable:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		Err:        cause,
	}
}

// NewNotFoundError reports a product or order the store does not have.
func NewNotFoundError(resource string) *APIError {
	return newAPIError("NOT_FOUND", http.StatusNotFound, ErrNotFound, resource+" not found")
}

// NewValidationError reports input the store (or the client) rejected.
func NewValidationError(field, reason string) *APIError {
	return newAPIError("VALIDATION_ERROR", http.StatusBadRequest, ErrInvalidRequest,
		fmt.Sprintf("invalid %s: %s", field, reason))
}

// NewUnauthorizedError reports rejected consumer credentials.
func NewUnauthorizedError(reason string) *APIError {
	return newAPIError("UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized, reason)
}

// NewUpstreamError reports a transport failure or an unexpected store response.
func NewUpstreamError(service string, err error) *APIError {
	return newAPIError("UPSTREAM_ERROR", http.StatusBadGateway,
		fmt.Errorf("%w: %v", ErrUpstreamError, err), service+" request failed")
}

// NewRateLimitError reports store throttling.
func NewRateLimitError(service string) *APIError {
	return newAPIError("RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited,
		service+" rate limit exceeded, please retry later")
}
