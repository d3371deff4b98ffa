// Package middleware holds the HTTP middleware chain of the server.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/texttailor/internal/errors"
	"github.com/3leaps/texttailor/internal/observability"
)

// ErrorResponse is the JSON error envelope written by the middleware.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery turns a panic in next into a 500 error envelope.
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

			requestID := apperrors.RequestIDFromContext(r.Context())
			observability.ServerLogger.Error("Panic in HTTP handler",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name the router chain uses.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	apperrors.WriteEnvelope(w, statusCode, envelope)
}
