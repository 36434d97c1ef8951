package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcEnvelope decodes JSON-RPC responses loosely for assertions.
type rpcEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  map[string]any `json:"result"`
	Error   *rpcError      `json:"error"`
}

func (f *apiFixture) rpc(t *testing.T, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRPCParseError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.rpc(t, "operator", `{not json`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
}

func TestRPCInvalidRequest(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{
		`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":1}`,
	} {
		rec := f.rpc(t, "operator", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp rpcEnvelope
		decodeJSON(t, rec, &resp)
		require.NotNil(t, resp.Error, "body: %s", body)
		assert.Equal(t, codeInvalidRequest, resp.Error.Code)
	}
}

func TestRPCMethodNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.rpc(t, "operator", `{"jsonrpc":"2.0","id":7,"method":"resources/read"}`)
	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "resources/read")
}

func TestRPCNotificationGetsNoBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.rpc(t, "operator", `{"jsonrpc":"2.0","method":"tools/list"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = f.rpc(t, "operator", `{"jsonrpc":"2.0","id":null,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRPCInitialize(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.rpc(t, "operator", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "2024-11-05", resp.Result["protocolVersion"])

	info, ok := resp.Result["serverInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "polyhub", info["name"])
}

func TestRPCToolsListFilteredByRole(t *testing.T) {
	f := newAPIFixture(t)

	names := func(caller string) []string {
		rec := f.rpc(t, caller, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		var resp rpcEnvelope
		decodeJSON(t, rec, &resp)
		require.Nil(t, resp.Error)
		raw, ok := resp.Result["tools"].([]any)
		require.True(t, ok)
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			out = append(out, item.(map[string]any)["name"].(string))
		}
		return out
	}

	adminTools := names("operator")
	assert.Contains(t, adminTools, "echo")
	assert.Contains(t, adminTools, "tool_register")
	assert.Contains(t, adminTools, "chain_start")

	// No X-Caller-ID means api_client, an unknown caller, which reads as
	// READER.
	readerTools := names("")
	assert.Contains(t, readerTools, "echo")
	assert.Contains(t, readerTools, "audit_query")
	assert.NotContains(t, readerTools, "tool_register")
	assert.NotContains(t, readerTools, "chain_start")
}

func TestRPCToolsCallSuccess(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.rpc(t, "operator",
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"ping"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.Nil(t, resp.Error)

	content, ok := resp.Result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], "ping")
	assert.Nil(t, resp.Result["isError"])
}

func TestRPCToolsCallRefusals(t *testing.T) {
	f := newAPIFixture(t)

	// Unknown tool.
	rec := f.rpc(t, "operator",
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`)
	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "no_such_tool")

	// RBAC denial for a reader-level caller.
	rec = f.rpc(t, "",
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"tool_register","arguments":{"alias":"x","existing":"echo"}}}`)
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)

	// Missing tool name is an invalid request, not a refusal.
	rec = f.rpc(t, "operator",
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"arguments":{}}}`)
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestRPCToolsCallHandlerError(t *testing.T) {
	f := newAPIFixture(t)

	// chain_status on a chain that does not exist fails inside the
	// handler, so the JSON-RPC layer reports success with isError set.
	rec := f.rpc(t, "operator",
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"chain_status","arguments":{"chain_id":"missing"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result["isError"])

	content := resp.Result["content"].([]any)
	require.Len(t, content, 1)
	assert.Contains(t, content[0].(map[string]any)["text"], "chain not found")
}

func TestRPCAcceptsMCPPath(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcEnvelope
	decodeJSON(t, rec, &resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "2024-11-05", resp.Result["protocolVersion"])
}
