package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/rbac"
)

// auditStreamWriteTimeout bounds one delivery to a WebSocket subscriber.
// A client that cannot keep up is dropped rather than allowed to stall
// the audit flush path.
const auditStreamWriteTimeout = 5 * time.Second

// auditStreamHandler handles GET /ws/audit: a live JSONL feed of audit
// entries as they are flushed. Each connection becomes one audit
// subscriber; delivery failure unsubscribes it.
func (s *Server) auditStreamHandler(c *echo.Context) error {
	if !s.rbac.Can(callerID(c), rbac.PermAuditRead) {
		return echo.NewHTTPError(http.StatusForbidden, "caller may not read the audit log")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	subID := fmt.Sprintf("ws-%s", uuid.NewString()[:8])
	s.audit.Subscribe(subID, func(line []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), auditStreamWriteTimeout)
		defer cancel()
		return conn.Write(ctx, websocket.MessageText, line)
	})
	defer s.audit.Unsubscribe(subID)

	// Block until the client goes away. Inbound messages are ignored;
	// the feed is one-way.
	ctx := c.Request().Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return nil
		}
	}
}
