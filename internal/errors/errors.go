// Package errors maps domain errors to HTTP responses and carries the
// application error type shared by the server and the CLI.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/listcache"
	"github.com/3leaps/lakeview/pkg/listing"
)

// Error codes returned in HTTP error envelopes.
const (
	CodeInvalidPath        = "INVALID_PATH"
	CodeQueryFailed        = "QUERY_FAILED"
	CodeQueryTimeout       = "QUERY_TIMEOUT"
	CodeQueryThrottled     = "QUERY_THROTTLED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRequestCanceled    = "REQUEST_CANCELED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Retry-After values in seconds for retryable query errors.
const (
	retryAfterThrottled = 5
	retryAfterQuery     = 30
)

// StatusClientClosedRequest is the non-standard status used when the client
// went away before the response was ready.
const StatusClientClosedRequest = 499

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string
	Message string
	Status  int

	// RetryAfter is the suggested retry delay in seconds; 0 means none.
	RetryAfter int

	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e with details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// NewNotFound returns a 404 error.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewMethodNotAllowed returns a 405 error.
func NewMethodNotAllowed(message string) *AppError {
	return &AppError{Code: CodeMethodNotAllowed, Message: message, Status: http.StatusMethodNotAllowed}
}

// NewExternalServiceError returns a 503 error for a dependency that is down.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// WrapInternal wraps err as a 500 error.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	appErr := &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
	if id := RequestIDFromContext(ctx); id != "" {
		appErr.Details = map[string]any{"request_id": id}
	}
	return appErr
}

// FromError classifies err into an AppError. Errors that are already
// AppErrors are returned unchanged; unknown errors become INTERNAL_ERROR.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case listing.IsInvalidPath(err):
		msg := "invalid path"
		var pathErr *listing.PathError
		if errors.As(err, &pathErr) {
			msg = pathErr.Reason
		}
		return &AppError{Code: CodeInvalidPath, Message: msg, Status: http.StatusBadRequest, Err: err}

	case inventory.IsQueryThrottled(err):
		return &AppError{
			Code:       CodeQueryThrottled,
			Message:    "inventory query was throttled, retry later",
			Status:     http.StatusTooManyRequests,
			RetryAfter: retryAfterThrottled,
			Err:        err,
		}

	case inventory.IsQueryTimeout(err):
		return &AppError{
			Code:       CodeQueryTimeout,
			Message:    "inventory query timed out",
			Status:     http.StatusGatewayTimeout,
			RetryAfter: retryAfterQuery,
			Err:        err,
		}

	case inventory.IsQueryFailed(err):
		return &AppError{
			Code:       CodeQueryFailed,
			Message:    "inventory query failed",
			Status:     http.StatusBadGateway,
			RetryAfter: retryAfterQuery,
			Details:    queryDetails(err),
			Err:        err,
		}

	case errors.Is(err, context.Canceled):
		return &AppError{Code: CodeRequestCanceled, Message: "request canceled", Status: StatusClientClosedRequest, Err: err}

	case listcache.IsComputeFailed(err):
		return &AppError{Code: CodeInternal, Message: "listing failed", Status: http.StatusInternalServerError, Err: err}
	}

	return &AppError{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

func queryDetails(err error) map[string]any {
	var qErr *inventory.QueryError
	if !errors.As(err, &qErr) {
		return nil
	}
	details := map[string]any{"backend": qErr.Backend.String()}
	if qErr.QueryID != "" {
		details["query_id"] = qErr.QueryID
	}
	if qErr.Reason != "" {
		details["reason"] = qErr.Reason
	}
	return details
}
