package e2e

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/audit"
)

func TestInitializeHandshake(t *testing.T) {
	hub := NewTestHub(t)

	resp := hub.RPC(t, "operator", "initialize", map[string]any{})
	require.Nil(t, resp.Error)
	assert.Equal(t, "2024-11-05", resp.Result["protocolVersion"])

	info := resp.Result["serverInfo"].(map[string]any)
	assert.Equal(t, "polyhub", info["name"])
}

func TestToolsListByRole(t *testing.T) {
	hub := NewTestHub(t)

	names := func(caller string) []string {
		resp := hub.RPC(t, caller, "tools/list", nil)
		require.Nil(t, resp.Error)
		raw := resp.Result["tools"].([]any)
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			out = append(out, item.(map[string]any)["name"].(string))
		}
		return out
	}

	assert.Contains(t, names("operator"), "llm_broadcast")
	assert.NotContains(t, names("beta"), "llm_broadcast")
	assert.Contains(t, names("beta"), "llm_call")
	assert.Contains(t, names("beta"), "memory_store")
}

func TestLLMCallThroughScriptedUpstream(t *testing.T) {
	hub := NewTestHub(t)
	hub.Upstreams["alpha"].EnqueueText("the answer is 42")

	payload := hub.CallTool(t, "operator", "llm_call", map[string]any{
		"target": "alpha",
		"prompt": "what is the answer?",
	})
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "the answer is 42", payload["response"])
	assert.Equal(t, "alpha", payload["actual_target"])

	traceID := payload["trace_id"].(string)
	require.NotEmpty(t, traceID)

	// The mesh wrote exactly one llm_call entry for the trace, and the
	// tools/call pipeline wrote its own tool_call entry.
	entries := hub.Audit.ByTrace(traceID)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionLLMCall)
}

func TestLLMCallRBACDeniedOverRPC(t *testing.T) {
	hub := NewTestHub(t)

	// Unknown caller reads as READER; llm_call is not in its tool set,
	// so the pipeline refuses before touching the mesh.
	resp := hub.RPC(t, "", "tools/call", map[string]any{
		"name":      "llm_call",
		"arguments": map[string]any{"target": "alpha", "prompt": "hi"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)
}

func TestMemoryStoreAndRecallOverRPC(t *testing.T) {
	hub := NewTestHub(t)

	stored := hub.CallTool(t, "operator", "memory_store", map[string]any{
		"content":    "deploys happen on tuesdays",
		"type":       "FACT",
		"confidence": 0.9,
		"project_id": "ops",
		"tags":       []string{"schedule"},
	})
	require.NotEmpty(t, stored["id"])

	recalled := hub.CallTool(t, "operator", "memory_recall", map[string]any{
		"query":      "when do deploys happen",
		"project_id": "ops",
	})
	raw, err := json.Marshal(recalled)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "deploys happen on tuesdays")
}

func TestAuditQueryOverRPC(t *testing.T) {
	hub := NewTestHub(t)
	hub.Upstreams["alpha"].EnqueueText("pong")

	payload := hub.CallTool(t, "operator", "llm_call", map[string]any{
		"target": "alpha",
		"prompt": "ping",
	})
	traceID := payload["trace_id"].(string)

	resp := hub.RPC(t, "operator", "tools/call", map[string]any{
		"name":      "audit_query",
		"arguments": map[string]any{"trace_id": traceID},
	})
	require.Nil(t, resp.Error)

	content := resp.Result["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(text), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, traceID, entries[0].TraceID)
}
