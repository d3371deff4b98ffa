package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/texttailor/internal/errors"
)

// ErrorResponder writes err to w.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the function handlers use to render
// errors. nil restores the default envelope writer.
func SetHTTPErrorResponder(fn ErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default envelope writer.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// NotFoundHandler renders unknown routes as a NOT_FOUND envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewNotFoundError("route "+r.URL.Path+" not found"))
}

// MethodNotAllowedHandler renders a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewMethodNotAllowedError(r.Method))
}
