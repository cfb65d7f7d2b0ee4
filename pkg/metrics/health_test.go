package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessRequiresCriticalComponents(t *testing.T) {
	resetHealth()

	s := GetReadiness()
	assert.Equal(t, "not_ready", s.Status)
	assert.Equal(t, "not registered", s.Components["store"])

	SetComponent("store", nil)
	SetComponent("worker", nil)
	assert.Equal(t, "ready", GetReadiness().Status)

	SetComponent("worker", errors.New("pool stopped"))
	s = GetReadiness()
	assert.Equal(t, "not_ready", s.Status)
	assert.Equal(t, "waiting for worker", s.Message)
}

func TestHealthHandler(t *testing.T) {
	resetHealth()
	SetVersion("test")
	SetComponent("store", nil)

	rec := httptest.NewRecorder()
	Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)

	SetComponent("store", errors.New("closed"))
	rec = httptest.NewRecorder()
	Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
