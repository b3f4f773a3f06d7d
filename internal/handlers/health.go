package handlers

import (
	"net/http"

	pkghttp "github.com/BradenHooton/thermo/pkg/http"
)

const apiVersion = "0.1.0"

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Index identifies the service.
func (h *HealthHandler) Index(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Temperature Monitor API",
		"version": apiVersion,
	})
}

// Health is the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
