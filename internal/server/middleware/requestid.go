package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/texttailor/internal/errors"
)

const maxRequestIDLen = 128

// RequestID propagates the caller's X-Request-ID or assigns a new one. The
// id is echoed on the response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(apperrors.RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		w.Header().Set(apperrors.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(apperrors.WithRequestID(r.Context(), id)))
	})
}
