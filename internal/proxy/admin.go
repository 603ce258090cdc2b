package proxy

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse is the gateway's own liveness answer. It reports on
// the gateway process only; backend health lives in /services/status.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// serviceStatus is one entry of the /services/status listing.
type serviceStatus struct {
	Name                string     `json:"name"`
	CircuitState        string     `json:"circuit_state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Healthy             bool       `json:"healthy"`
	LastChecked         *time.Time `json:"last_checked,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// handleServicesStatus reports, per registered service, the circuit
// breaker view and the health monitor view side by side. The two
// signals are deliberately independent: a service can be unhealthy by
// probe while its breaker is still closed.
func (rt *Router) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	services := rt.registry.Services()
	statuses := make([]serviceStatus, 0, len(services))

	for _, svc := range services {
		stats := rt.breakers.For(svc.Name).Stats()

		entry := serviceStatus{
			Name:                svc.Name,
			CircuitState:        stats.State.String(),
			ConsecutiveFailures: stats.ConsecutiveFailures,
		}

		if hs, ok := rt.monitor.Status(svc.Name); ok {
			entry.Healthy = hs.Healthy
			checked := hs.LastChecked
			entry.LastChecked = &checked
			entry.LastError = hs.LastError
		}

		statuses = append(statuses, entry)
	}

	writeJSON(w, http.StatusOK, statuses)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
