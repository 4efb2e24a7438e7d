package http

import (
	"net/http"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
)

// ConnectionReporter exposes the hub connection status.
type ConnectionReporter interface {
	Status() domain.ConnectionStatus
	Describe() []services.HubInfo
}

// HealthHandler handles health check requests
type HealthHandler struct {
	connections ConnectionReporter
	startTime   time.Time
	version     string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connections ConnectionReporter, version string) *HealthHandler {
	return &HealthHandler{
		connections: connections,
		startTime:   time.Now(),
		version:     version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Version   string           `json:"version,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleLiveness reports that the process is running.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness reports whether every hub is connected.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]Check)
	overallStatus := "healthy"

	for _, hub := range h.connections.Describe() {
		check := Check{Status: "healthy"}
		if hub.Status != domain.StatusConnected {
			check = Check{Status: "unhealthy", Message: string(hub.Status)}
			if hub.LastError != "" {
				check.Message += ": " + hub.LastError
			}
			overallStatus = "unhealthy"
		}
		checks["hub:"+string(hub.Name)] = check
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}
