package api

import (
	"encoding/json"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/rbac"
)

// StartChainRequest is the POST /api/v1/chains body.
type StartChainRequest struct {
	Prompt            string `json:"prompt"`
	ProjectID         string `json:"project_id,omitempty"`
	MaxCycles         int    `json:"max_cycles,omitempty"`
	AutopromptProfile string `json:"autoprompt_profile,omitempty"`
}

// startChainHandler handles POST /api/v1/chains.
func (s *Server) startChainHandler(c *echo.Context) error {
	caller := callerID(c)
	if !s.rbac.Can(caller, rbac.PermChainStart) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not start chains")
	}

	var req StartChainRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ch, err := s.chains.StartChain(chain.StartInput{
		UserPrompt:        req.Prompt,
		ProjectID:         req.ProjectID,
		MaxCycles:         req.MaxCycles,
		AutopromptProfile: req.AutopromptProfile,
	})
	if err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusAccepted, ch)
}

// listChainsHandler handles GET /api/v1/chains.
func (s *Server) listChainsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"chains": s.chains.List()})
}

// getChainHandler handles GET /api/v1/chains/:id.
func (s *Server) getChainHandler(c *echo.Context) error {
	ch, err := s.chains.Status(c.Param("id"))
	if err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

// cancelChainHandler handles POST /api/v1/chains/:id/cancel.
func (s *Server) cancelChainHandler(c *echo.Context) error {
	if !s.rbac.Can(callerID(c), rbac.PermChainManage) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not manage chains")
	}
	if err := s.chains.Cancel(c.Param("id")); err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"chain_id": c.Param("id"), "cancelled": true})
}

// pauseChainHandler handles POST /api/v1/chains/:id/pause.
func (s *Server) pauseChainHandler(c *echo.Context) error {
	if !s.rbac.Can(callerID(c), rbac.PermChainManage) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not manage chains")
	}
	if err := s.chains.Pause(c.Param("id")); err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"chain_id": c.Param("id"), "paused": true})
}

// resumeChainHandler handles POST /api/v1/chains/:id/resume.
func (s *Server) resumeChainHandler(c *echo.Context) error {
	if !s.rbac.Can(callerID(c), rbac.PermChainManage) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not manage chains")
	}
	if err := s.chains.Resume(c.Param("id")); err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"chain_id": c.Param("id"), "resumed": true})
}

// chainLogsHandler handles GET /api/v1/chains/:id/logs.
func (s *Server) chainLogsHandler(c *echo.Context) error {
	cycles, err := s.chains.Logs(c.Param("id"))
	if err != nil {
		return mapChainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"cycles": cycles})
}

// mapChainError maps chain engine errors to HTTP errors.
func mapChainError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, chain.ErrChainNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, chain.ErrChainTerminal), errors.Is(err, chain.ErrChainNotPaused):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, chain.ErrEmptyPrompt):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
