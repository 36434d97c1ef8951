package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/rbac"
)

const defaultAuditLimit = 50

// auditRecentHandler handles GET /api/v1/audit/recent. Supports
// ?limit=N, ?trace_id=..., ?security_only=true, and ?errors_only=true.
func (s *Server) auditRecentHandler(c *echo.Context) error {
	if !s.rbac.Can(callerID(c), rbac.PermAuditRead) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not read the audit log")
	}

	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	var entries []audit.Entry
	switch {
	case c.QueryParam("trace_id") != "":
		entries = s.audit.ByTrace(c.QueryParam("trace_id"))
	case c.QueryParam("caller_id") != "":
		entries = s.audit.ByCaller(c.QueryParam("caller_id"))
	case c.QueryParam("security_only") == "true":
		entries = s.audit.SecurityEvents(limit)
	case c.QueryParam("errors_only") == "true":
		entries = s.audit.Errors(limit)
	default:
		entries = s.audit.Recent(limit)
	}

	if level := c.QueryParam("level"); level != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == audit.Level(level) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
