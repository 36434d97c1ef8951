package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/polyhub/polyhub/pkg/tools"
	"github.com/polyhub/polyhub/pkg/version"
)

// rpcHandler handles POST /rpc and /mcp: the JSON-RPC 2.0 envelope
// around initialize, tools/list, and tools/call.
func (s *Server) rpcHandler(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, rpcFailure(nil, codeParseError, "failed to read request body"))
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusOK, rpcFailure(nil, codeParseError, "parse error"))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return c.JSON(http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "invalid request"))
	}

	resp := s.dispatchRPC(c, &req)

	// Notifications get no response body.
	if req.notification() {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) dispatchRPC(c *echo.Context, req *rpcRequest) *rpcResponse {
	caller := callerID(c)
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req, caller)
	case "tools/call":
		return s.handleToolsCall(c, req, caller)
	default:
		return rpcFailure(req.ID, codeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *rpcRequest) *rpcResponse {
	return rpcResult(req.ID, initializeResult{
		ProtocolVersion: mcpProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": true},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"logging":   map[string]any{},
		},
		ServerInfo: serverInfo{Name: version.AppName, Version: version.GitCommit},
	})
}

func (s *Server) handleToolsList(req *rpcRequest, caller string) *rpcResponse {
	visible := s.tools.ListFor(caller)
	list := make([]map[string]any, 0, len(visible))
	for _, tool := range visible {
		list = append(list, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	return rpcResult(req.ID, map[string]any{"tools": list})
}

// toolsCallParams is the tools/call parameter shape.
type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(c *echo.Context, req *rpcRequest, caller string) *rpcResponse {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return rpcFailure(req.ID, codeInvalidRequest, "tools/call requires a tool name")
	}

	out := s.tools.Call(c.Request().Context(), params.Name, params.Arguments, tools.Invocation{
		Caller:  caller,
		TraceID: c.Request().Header.Get("X-Trace-ID"),
	})
	if !out.Success {
		// Pipeline refusals map to -32000; handler errors stay JSON-RPC
		// successes with isError set.
		if out.Refused {
			return rpcFailure(req.ID, codeServerError, out.Error)
		}
		return rpcResult(req.ID, toolCallResult{
			Content: []contentBlock{{Type: "text", Text: out.Error}},
			IsError: true,
		})
	}

	text, err := json.Marshal(out.Result)
	if err != nil {
		return rpcFailure(req.ID, codeServerError, "failed to encode tool result")
	}
	return rpcResult(req.ID, toolCallResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
	})
}
