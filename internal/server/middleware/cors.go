package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	apperrors "github.com/3leaps/texttailor/internal/errors"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 600

// CORS allows browser clients from origins to call the API. "*" or an
// empty list allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", apperrors.RequestIDHeader},
		ExposedHeaders: []string{apperrors.RequestIDHeader},
		MaxAge:         corsMaxAge,
	})
}
