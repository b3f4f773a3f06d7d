package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler()

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var index map[string]string
	AssertJSONResponse(t, w, http.StatusOK, &index)
	assert.Equal(t, "ok", index["status"])
	assert.Equal(t, apiVersion, index["version"])

	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var health map[string]string
	AssertJSONResponse(t, w, http.StatusOK, &health)
	assert.Equal(t, "healthy", health["status"])
}
