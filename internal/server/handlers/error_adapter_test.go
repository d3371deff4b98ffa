package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/texttailor/internal/errors"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestDefaultResponder_Codes(t *testing.T) {
	ResetHTTPErrorResponder()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{
			name:       "validation",
			err:        apperrors.NewValidationError("find must not be empty", map[string]any{"field": "find"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.CodeValidation,
			wantDetail: "field",
		},
		{
			name:       "external service",
			err:        apperrors.NewExternalServiceError("ghost admin api returned 502"),
			wantStatus: http.StatusBadGateway,
			wantCode:   apperrors.CodeExternalService,
		},
		{
			name:       "wrapped app error",
			err:        fmt.Errorf("fetch page 2: %w", apperrors.NewExternalServiceError("ghost unreachable")),
			wantStatus: http.StatusBadGateway,
			wantCode:   apperrors.CodeExternalService,
		},
		{
			name:       "plain error is internal",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/replace", nil)
			req.Header.Set(apperrors.RequestIDHeader, "req-42")
			rec := httptest.NewRecorder()

			respondWithError(rec, req, tt.err)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, "req-42", body.RequestID)
			if tt.wantDetail != "" {
				assert.Contains(t, body.Details, tt.wantDetail)
			}
			if tt.wantCode == apperrors.CodeInternal {
				assert.NotContains(t, body.Message, assert.AnError.Error())
			}
		})
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ResetHTTPErrorResponder()

	rec := httptest.NewRecorder()
	NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeNotFound, body.Code)
	assert.Contains(t, body.Message, "/api/nope")

	rec = httptest.NewRecorder()
	MethodNotAllowedHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/replace", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, apperrors.CodeMethodNotAllowed, body.Code)
	assert.Contains(t, body.Message, http.MethodDelete)
}

func TestSetHTTPErrorResponder(t *testing.T) {
	defer ResetHTTPErrorResponder()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	appErr := apperrors.As(captured)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
