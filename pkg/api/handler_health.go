package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's verdict.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. Only the hub's own components are
// checked; upstream model endpoints are reported through their circuit
// state without failing the probe.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.pool != nil {
		poolHealth := s.pool.Health()
		if !poolHealth.IsHealthy {
			status = healthStatusDegraded
			checks["worker_pool"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: "no active workers",
			}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.audit != nil {
		checks["audit_log"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.circuits != nil {
		open := 0
		for _, st := range s.circuits.StatusAll() {
			if st.State == circuit.StateOpen {
				open++
			}
		}
		if open > 0 {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["circuits"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: "open circuit breakers present",
			}
		} else {
			checks["circuits"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
