package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RPCResponse is a loosely decoded JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  map[string]any `json:"result"`
	Error   *RPCError      `json:"error"`
}

// RPCError is the JSON-RPC error member.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// RPC performs one JSON-RPC request against /rpc as the given caller.
func (h *TestHub) RPC(t *testing.T, caller, method string, params any) *RPCResponse {
	t.Helper()

	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.BaseURL+"/rpc", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

// CallTool invokes tools/call and requires a successful outcome,
// returning the decoded result payload from the first content block.
func (h *TestHub) CallTool(t *testing.T, caller, tool string, args map[string]any) map[string]any {
	t.Helper()

	resp := h.RPC(t, caller, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	require.Nil(t, resp.Error, "tool %s refused: %+v", tool, resp.Error)
	require.NotEqual(t, true, resp.Result["isError"],
		"tool %s failed: %v", tool, resp.Result["content"])

	content, ok := resp.Result["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, content)
	text := content[0].(map[string]any)["text"].(string)

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return map[string]any{"text": text}
	}
	return payload
}

// Get performs a GET against the REST surface and decodes the JSON body.
func (h *TestHub) Get(t *testing.T, caller, path string, into any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, h.BaseURL+path, nil)
	require.NoError(t, err)
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if into != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, into),
			"GET %s: %s", path, string(data))
	}
	return resp.StatusCode
}

// Post performs a POST against the REST surface and decodes the JSON body.
func (h *TestHub) Post(t *testing.T, caller, path string, body, into any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, h.BaseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if into != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, into),
			"POST %s: %s", path, string(data))
	}
	return resp.StatusCode
}

// WaitFor polls until the condition holds or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 20*time.Millisecond, "%s", msg)
}

// leadPlan builds a minimal agent_plan block for scripting chain cycles.
func leadPlan(tasks ...map[string]any) string {
	plan := map[string]any{"tasks": tasks}
	raw, _ := json.Marshal(plan)
	return fmt.Sprintf("```agent_plan\n%s\n```", raw)
}
