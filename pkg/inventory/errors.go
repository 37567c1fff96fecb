package inventory

import (
	"errors"
	"fmt"
)

// Sentinel errors for query operations. All three are retryable by the
// caller with backoff.
var (
	// ErrQueryFailed indicates the query engine reported a failure.
	ErrQueryFailed = errors.New("query failed")

	// ErrQueryTimeout indicates the query exceeded its execution deadline.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrQueryThrottled indicates the query engine rate limited the request.
	ErrQueryThrottled = errors.New("query throttled")
)

// QueryError wraps backend-specific errors with context.
type QueryError struct {
	// Op is the operation that failed (e.g., "StartQueryExecution").
	Op string

	// Backend is the backend that produced the error.
	Backend Backend

	// QueryID is the engine-side execution ID, if one was assigned.
	QueryID string

	// Prefix is the key prefix being queried.
	Prefix string

	// Reason is the engine's explanation, if any.
	Reason string

	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	msg := e.Op
	if e.Backend != "" {
		msg = fmt.Sprintf("%s %s", e.Backend, e.Op)
	}
	if e.QueryID != "" {
		msg += " [" + e.QueryID + "]"
	}
	if e.Prefix != "" {
		msg += fmt.Sprintf(" prefix=%q", e.Prefix)
	}
	msg += ": " + e.Err.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryFailed returns true if the error indicates an engine-side failure.
func IsQueryFailed(err error) bool {
	return errors.Is(err, ErrQueryFailed)
}

// IsQueryTimeout returns true if the error indicates the deadline was exceeded.
func IsQueryTimeout(err error) bool {
	return errors.Is(err, ErrQueryTimeout)
}

// IsQueryThrottled returns true if the error indicates rate limiting.
func IsQueryThrottled(err error) bool {
	return errors.Is(err, ErrQueryThrottled)
}

// IsRetryable returns true for any of the query error kinds.
func IsRetryable(err error) bool {
	return IsQueryFailed(err) || IsQueryTimeout(err) || IsQueryThrottled(err)
}
