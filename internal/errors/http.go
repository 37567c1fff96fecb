package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// HTTPErrorResponse is the JSON body for every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the error object inside HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type requestIDKey struct{}

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RespondWithError classifies err and writes the JSON envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	WriteAppError(w, r, FromError(err))
}

// WriteAppError writes appErr as a JSON envelope, setting Retry-After for
// retryable errors.
func WriteAppError(w http.ResponseWriter, r *http.Request, appErr *AppError) {
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	WriteEnvelope(w, NewEnvelope(appErr, RequestIDFromContext(r.Context())), appErr.Status)
}

// NewEnvelope converts appErr to a gofulmen error envelope. The request ID
// becomes the correlation ID and Details the envelope context.
func NewEnvelope(appErr *AppError, requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(appErr.Code, appErr.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(appErr.Details) > 0 {
		if withCtx, err := env.WithContext(appErr.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// WriteEnvelope writes env with the given status as
// {"error":{code,message,request_id,details}}.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	body := HTTPErrorResponse{
		Error: HTTPError{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
			Details:   env.Context,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NotFoundHandler writes a NOT_FOUND envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteAppError(w, r, NewNotFound("resource not found: "+r.URL.Path))
}

// MethodNotAllowedHandler writes a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteAppError(w, r, NewMethodNotAllowed("method "+r.Method+" not allowed on "+r.URL.Path))
}
