package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/config"
)

// EndpointStatus is one row of GET /api/v1/endpoints.
type EndpointStatus struct {
	Name         string              `json:"name"`
	Type         config.ProviderType `json:"type"`
	Model        string              `json:"model"`
	Capabilities []config.Capability `json:"capabilities,omitempty"`
	Role         string              `json:"role"`
	Disabled     bool                `json:"disabled,omitempty"`
	CircuitState string              `json:"circuit_state"`
	RateUsed     int                 `json:"rate_used"`
	RateLimit    int                 `json:"rate_limit"`
}

// endpointsHandler handles GET /api/v1/endpoints.
func (s *Server) endpointsHandler(c *echo.Context) error {
	out := make([]EndpointStatus, 0, s.endpoints.Len())
	rateStatus := s.limiter.Status()
	for _, name := range s.endpoints.Names() {
		ep, err := s.endpoints.Get(name)
		if err != nil {
			continue
		}
		row := EndpointStatus{
			Name:         name,
			Type:         ep.Type,
			Model:        ep.Model,
			Capabilities: ep.Capabilities,
			Role:         string(s.rbac.RoleOf(name)),
			Disabled:     ep.Disabled,
			CircuitState: string(s.circuits.State(name)),
			RateLimit:    s.limiter.Limit(name),
		}
		if rs, ok := rateStatus[name]; ok {
			row.RateUsed = rs.Used
		}
		out = append(out, row)
	}
	return c.JSON(http.StatusOK, map[string]any{"endpoints": out})
}
