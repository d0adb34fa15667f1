package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRouter_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newMetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsRouter_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newMetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsRouter_UnknownPath(t *testing.T) {
	rec := httptest.NewRecorder()
	newMetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
