package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/texttailor/internal/errors"
	"github.com/3leaps/texttailor/pkg/jobregistry"
)

// registryChecker mirrors the "jobs" checker serve registers.
func registryChecker(reg *jobregistry.Registry) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		if reg.Closed() {
			return errors.New("job registry closed")
		}
		return nil
	})
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthHandler_JobsCheckerFollowsRegistry(t *testing.T) {
	reg := jobregistry.New()
	manager := NewHealthManager("1.4.0")
	manager.RegisterChecker("jobs", registryChecker(reg))
	manager.RegisterChecker("identity", HealthCheckerFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.4.0", resp.Version)
	assert.Equal(t, map[string]string{"jobs": "healthy", "identity": "healthy"}, resp.Checks)

	reg.Close()

	rec = httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeServiceUnavailable, body.Error.Code)
	checks, ok := body.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "checks in error details")
	assert.Equal(t, "unhealthy", checks["jobs"])
	assert.Equal(t, "healthy", checks["identity"])
}

func TestHealthHandler_SlowCheckerIsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.timeout = 20 * time.Millisecond
	manager.RegisterChecker("ghost", HealthCheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "timeout", resp.Checks["ghost"])
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{"no checks", nil, "healthy"},
		{"all healthy", map[string]string{"jobs": "healthy", "signals": "healthy"}, "healthy"},
		{"timeout only", map[string]string{"jobs": "healthy", "snapshots": "timeout"}, "degraded"},
		{"failure wins over timeout", map[string]string{"jobs": "unhealthy", "snapshots": "timeout"}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manager.determineOverallStatus(tt.checks))
		})
	}
}

func TestLivenessHandler_IgnoresCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("jobs", HealthCheckerFunc(func(context.Context) error {
		return errors.New("job registry closed")
	}))

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestRegisterChecker_Replaces(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("jobs", HealthCheckerFunc(func(context.Context) error { return errors.New("down") }))
	manager.RegisterChecker("jobs", HealthCheckerFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGlobalHealthHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	handlers := map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	}

	t.Run("not initialized", func(t *testing.T) {
		globalHealthManager = nil
		assert.Nil(t, GetHealthManager())
		for path, h := range handlers {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		}
	})

	t.Run("initialized", func(t *testing.T) {
		InitHealthManager("2.0.0")
		require.NotNil(t, GetHealthManager())
		for path, h := range handlers {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
			assert.Equal(t, "2.0.0", decodeHealth(t, rec).Version, path)
		}
	})
}
