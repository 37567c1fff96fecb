package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/lakeview/internal/errors"
	"github.com/3leaps/lakeview/internal/observability"
)

// ErrorResponse is the JSON error envelope written by the middleware.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			observability.ServerLogger.Error("Handler panic",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", apperrors.RequestIDFromContext(r.Context())),
				zap.ByteString("stack", debug.Stack()),
			)

			envelope := gferrors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			if id := apperrors.RequestIDFromContext(r.Context()); id != "" {
				envelope = envelope.WithCorrelationID(id)
			}
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// writeErrorResponse writes envelope as the JSON error body.
func writeErrorResponse(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, statusCode int) {
	apperrors.WriteEnvelope(w, envelope, statusCode)
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}
