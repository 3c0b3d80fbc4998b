package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/karalabe/rabbitfence/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	router := NewRouter(httprouter.New())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	router := NewRouter(httprouter.New())
	telemetry.DecisionsTotal.WithLabelValues("fence").Inc()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rabbitfence_fence_decisions_total{outcome="fence"}`)
	assert.Contains(t, rec.Body.String(), "rabbitfence_uptime_seconds")
}

func TestUnknownRoute(t *testing.T) {
	router := NewRouter(httprouter.New())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
