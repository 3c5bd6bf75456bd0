package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandlers exposes liveness and readiness probes.
type HealthHandlers struct {
	ready func() error
}

// NewHealthHandlers constructs health handlers. The readiness probe is
// optional; without one, readyz mirrors healthz.
func NewHealthHandlers(ready func() error) *HealthHandlers {
	return &HealthHandlers{ready: ready}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "ok")
}

// Readyz reports dependency readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h != nil && h.ready != nil {
		if err := h.ready(); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeHealth(w, http.StatusOK, "ok")
}

func writeHealth(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
