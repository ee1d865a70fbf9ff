package handlers

import "net/http"

// Probe reports one dependency's health.
type Probe func() bool

// HealthHandler serves liveness and readiness. Liveness only says the
// process is up; readiness also checks intake connectivity, and reports
// degraded when the process can serve reads but is not ingesting.
type HealthHandler struct {
	probes map[string]Probe
}

// NewHealthHandler constructs a handler over named dependency probes.
func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /readyz.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	checks := make(map[string]bool, len(h.probes))
	healthy := true
	for name, probe := range h.probes {
		ok := probe()
		checks[name] = ok
		healthy = healthy && ok
	}

	resp := HealthResponse{Status: "ready", Checks: checks}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
