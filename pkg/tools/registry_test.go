package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/rbac"
)

func newTestRegistry(t *testing.T) (*Registry, *audit.Log) {
	t.Helper()
	log, err := audit.New(audit.Config{Dir: t.TempDir(), RingSize: 100, FlushThreshold: 50})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	checker := rbac.NewChecker(map[string]rbac.Role{
		"operator": rbac.RoleAdmin,
		"worker":   rbac.RoleWorker,
	})
	return NewRegistry(checker, log, nil), log
}

func testEchoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "Returns its params unchanged.",
		InputSchema: ObjectSchema(map[string]any{
			"msg": map[string]any{"type": "string"},
		}, "msg"),
		RequiredPermission: rbac.PermHealthCheck,
		Category:           "diagnostics",
	}
}

func testEchoHandler(_ context.Context, params map[string]any, _ Invocation) (any, error) {
	return params, nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register(testEchoTool(), testEchoHandler))

	err := r.Register(testEchoTool(), testEchoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r, _ := newTestRegistry(t)
	bad := testEchoTool()
	bad.InputSchema = map[string]any{"type": "object", "properties": "not-an-object"}

	err := r.Register(bad, testEchoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestCallUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	out := r.Call(context.Background(), "missing", nil, Invocation{Caller: "operator"})
	require.False(t, out.Success)
	assert.Equal(t, "unknown tool: missing", out.Error)
}

func TestCallRBACDenied(t *testing.T) {
	r, log := newTestRegistry(t)
	tool := testEchoTool()
	tool.RequiredPermission = rbac.PermQueueManage // WORKER does not hold this
	require.NoError(t, r.Register(tool, testEchoHandler))

	out := r.Call(context.Background(), "echo", map[string]any{"msg": "x"}, Invocation{Caller: "worker"})
	require.False(t, out.Success)
	assert.Equal(t, "rbac denied", out.Error)

	sec := log.SecurityEvents(10)
	require.Len(t, sec, 1)
	assert.Equal(t, audit.ActionRBACDenied, sec[0].Action)
	assert.Equal(t, "echo", sec[0].ToolName)
}

func TestCallValidatesParams(t *testing.T) {
	r, log := newTestRegistry(t)
	require.NoError(t, r.Register(testEchoTool(), testEchoHandler))

	out := r.Call(context.Background(), "echo", map[string]any{"wrong": true}, Invocation{Caller: "operator"})
	require.False(t, out.Success)
	assert.Contains(t, out.Error, "invalid params")

	// Validation failures still leave the single tool_call entry behind.
	entries := log.Errors(10)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionToolCall, entries[0].Action)
}

func TestCallSuccessAuditsOnce(t *testing.T) {
	r, log := newTestRegistry(t)
	require.NoError(t, r.Register(testEchoTool(), testEchoHandler))

	out := r.Call(context.Background(), "echo", map[string]any{"msg": "hi"}, Invocation{
		Caller:  "operator",
		TraceID: "t-1",
	})
	require.True(t, out.Success)
	assert.Equal(t, map[string]any{"msg": "hi"}, out.Result)

	entries := log.ByTrace("t-1")
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionToolCall, entries[0].Action)
	assert.Equal(t, "success", entries[0].ResultStatus)
}

func TestCallSanitizesAuditParams(t *testing.T) {
	r, log := newTestRegistry(t)
	tool := testEchoTool()
	tool.InputSchema = nil
	tool.Name = "login"
	require.NoError(t, r.Register(tool, testEchoHandler))

	out := r.Call(context.Background(), "login", map[string]any{
		"msg":      "ok",
		"password": "hunter2",
	}, Invocation{Caller: "operator", TraceID: "t-2"})
	require.True(t, out.Success)

	// The handler saw the real value; the audit entry must not.
	assert.Equal(t, "hunter2", out.Result.(map[string]any)["password"])
	entries := log.ByTrace("t-2")
	require.Len(t, entries, 1)
	assert.NotEqual(t, "hunter2", entries[0].Params["password"])
}

func TestCallHandlerError(t *testing.T) {
	r, log := newTestRegistry(t)
	tool := testEchoTool()
	tool.InputSchema = nil
	require.NoError(t, r.Register(tool, func(context.Context, map[string]any, Invocation) (any, error) {
		return nil, errors.New("backend gone")
	}))

	out := r.Call(context.Background(), "echo", nil, Invocation{Caller: "operator"})
	require.False(t, out.Success)
	assert.Equal(t, "backend gone", out.Error)

	entries := log.Errors(10)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].ResultStatus)
}

func TestCallContainsPanics(t *testing.T) {
	r, _ := newTestRegistry(t)
	tool := testEchoTool()
	tool.InputSchema = nil
	require.NoError(t, r.Register(tool, func(context.Context, map[string]any, Invocation) (any, error) {
		panic("handler bug")
	}))

	out := r.Call(context.Background(), "echo", nil, Invocation{Caller: "operator"})
	require.False(t, out.Success)
	assert.Contains(t, out.Error, "handler panic: handler bug")
}

func TestListForFiltersByPermission(t *testing.T) {
	r, _ := newTestRegistry(t)
	open := testEchoTool()
	require.NoError(t, r.Register(open, testEchoHandler))

	locked := testEchoTool()
	locked.Name = "queue_drain"
	locked.RequiredPermission = rbac.PermQueueManage
	require.NoError(t, r.Register(locked, testEchoHandler))

	workerView := r.ListFor("worker")
	require.Len(t, workerView, 1)
	assert.Equal(t, "echo", workerView[0].Name)

	adminView := r.ListFor("operator")
	assert.Len(t, adminView, 2)
}
