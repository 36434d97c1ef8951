package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/queue"
)

// QueueResponse is the GET /api/v1/queue body.
type QueueResponse struct {
	Depth    int               `json:"depth"`
	ByStatus map[string]int    `json:"by_status"`
	Agents   []*queue.Agent    `json:"agents"`
	Pool     *queue.PoolHealth `json:"pool,omitempty"`
}

// queueHandler handles GET /api/v1/queue.
func (s *Server) queueHandler(c *echo.Context) error {
	byStatus := make(map[string]int)
	for _, st := range []queue.Status{
		queue.StatusQueued,
		queue.StatusRunning,
		queue.StatusCompleted,
		queue.StatusFailed,
		queue.StatusCancelled,
	} {
		byStatus[string(st)] = len(s.queue.List(st))
	}

	resp := &QueueResponse{
		Depth:    s.queue.Depth(),
		ByStatus: byStatus,
		Agents:   s.queue.Agents(),
	}
	if s.pool != nil {
		resp.Pool = s.pool.Health()
	}
	return c.JSON(http.StatusOK, resp)
}
