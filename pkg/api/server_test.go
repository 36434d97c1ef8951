package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/mesh"
	"github.com/polyhub/polyhub/pkg/queue"
	"github.com/polyhub/polyhub/pkg/ratelimit"
	"github.com/polyhub/polyhub/pkg/rbac"
	"github.com/polyhub/polyhub/pkg/tools"
)

// stubCaller answers every lead call with a terminal response so chains
// started over the API complete after one cycle.
type stubCaller struct{}

func (stubCaller) Call(_ context.Context, in mesh.CallInput) *mesh.CallResult {
	return &mesh.CallResult{
		Success:      true,
		Response:     "direct answer [CHAIN_DONE]",
		ActualTarget: in.Target,
		TraceID:      in.TraceID,
	}
}

func (stubCaller) Delegate(_ context.Context, in mesh.DelegateInput) *mesh.DelegateResult {
	return &mesh.DelegateResult{
		CallResult: &mesh.CallResult{Success: true, Response: "done", TraceID: in.TraceID},
		TaskType:   in.TaskType,
	}
}

type apiFixture struct {
	server *Server
	audit  *audit.Log
	queue  *queue.Queue
	chains *chain.Engine
}

func newAPIFixture(t *testing.T, opts ...ServerOption) *apiFixture {
	t.Helper()

	log, err := audit.New(audit.Config{Dir: t.TempDir(), FlushThreshold: 1})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	checker := rbac.NewChecker(map[string]rbac.Role{
		"operator": rbac.RoleAdmin,
		"alpha":    rbac.RoleLead,
	})

	q, err := queue.New(queue.Config{SnapshotPath: filepath.Join(t.TempDir(), "queue.json")})
	require.NoError(t, err)

	engine := chain.New(chain.Deps{
		Mesh:     stubCaller{},
		Profiles: config.NewProfileRegistry(nil),
		Audit:    log,
	}, &config.ChainConfig{
		Lead:        "alpha",
		MaxCycles:   3,
		MaxParallel: 2,
		TaskTimeout: time.Minute,
	})
	t.Cleanup(engine.Wait)

	endpoints := config.NewEndpointRegistry(map[string]*config.EndpointConfig{
		"alpha": {
			Type:         config.ProviderAnthropic,
			Model:        "alpha-large",
			Capabilities: []config.Capability{config.CapabilityGeneral, config.CapabilityReasoning},
		},
	})

	registry := tools.NewRegistry(checker, log, nil)
	require.NoError(t, tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Chains:    engine,
		Queue:     q,
		Audit:     log,
		Endpoints: endpoints,
	}))

	srv := NewServer(ServerDeps{
		Tools:     registry,
		Chains:    engine,
		Queue:     q,
		Audit:     log,
		Circuits:  circuit.NewRegistry(circuit.Config{}),
		Limiter:   ratelimit.NewLimiter(60),
		Endpoints: endpoints,
		RBAC:      checker,
	}, opts...)

	return &apiFixture{server: srv, audit: log, queue: q, chains: engine}
}

// do runs one request through the routed handler.
func (f *apiFixture) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Contains(t, resp.Checks, "audit_log")
	assert.Contains(t, resp.Checks, "circuits")

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestChainLifecycleOverREST(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chains", "operator", StartChainRequest{
		Prompt:    "summarize the release notes",
		ProjectID: "release",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started chain.Chain
	decodeJSON(t, rec, &started)
	require.NotEmpty(t, started.ChainID)
	assert.Equal(t, "release", started.ProjectID)

	require.Eventually(t, func() bool {
		ch, err := f.chains.Status(started.ChainID)
		return err == nil && ch.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/chains/"+started.ChainID, "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got chain.Chain
	decodeJSON(t, rec, &got)
	assert.Equal(t, chain.StatusCompleted, got.Status)
	assert.Contains(t, got.FinalOutput, "direct answer")

	rec = f.do(t, http.MethodGet, "/api/v1/chains", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Chains []*chain.Chain `json:"chains"`
	}
	decodeJSON(t, rec, &list)
	require.Len(t, list.Chains, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/chains/"+started.ChainID+"/logs", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Cycles []*chain.Cycle `json:"cycles"`
	}
	decodeJSON(t, rec, &logs)
	require.Len(t, logs.Cycles, 1)

	// Terminal chains reject further transitions.
	rec = f.do(t, http.MethodPost, "/api/v1/chains/"+started.ChainID+"/cancel", "operator", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/chains/"+started.ChainID+"/resume", "operator", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChainStartValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chains", "operator", StartChainRequest{Prompt: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown callers default to READER, which may not start chains.
	rec = f.do(t, http.MethodPost, "/api/v1/chains", "", StartChainRequest{Prompt: "do things"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChainNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/chains/no-such-chain", "operator", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chains/no-such-chain/pause", "operator", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.queue.Enqueue(queue.EnqueueInput{
		Payload:  "index the repo",
		Type:     "research",
		Priority: queue.PriorityHigh,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/queue", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueueResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 1, resp.Depth)
	assert.Equal(t, 1, resp.ByStatus[string(queue.StatusQueued)])
	assert.Equal(t, 0, resp.ByStatus[string(queue.StatusRunning)])
}

func TestAuditRecentEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.audit.Record(audit.Entry{
		TraceID:  "trace-1",
		CallerID: "alpha",
		Action:   audit.ActionLLMCall,
		Level:    audit.LevelInfo,
	})
	f.audit.Record(audit.Entry{
		TraceID:  "trace-2",
		CallerID: "alpha",
		Action:   audit.ActionRBACDenied,
		Level:    audit.LevelSecurity,
	})

	rec := f.do(t, http.MethodGet, "/api/v1/audit/recent?limit=10", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/recent?trace_id=trace-1", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, audit.ActionLLMCall, resp.Entries[0].Action)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/recent?security_only=true", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, audit.ActionRBACDenied, resp.Entries[0].Action)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/recent?level=SECURITY", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, audit.LevelSecurity, resp.Entries[0].Level)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/recent?limit=bogus", "operator", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpointsHandler(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/endpoints", "operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Endpoints []EndpointStatus `json:"endpoints"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Endpoints, 1)

	ep := resp.Endpoints[0]
	assert.Equal(t, "alpha", ep.Name)
	assert.Equal(t, config.ProviderAnthropic, ep.Type)
	assert.Equal(t, string(rbac.RoleLead), ep.Role)
	assert.Equal(t, string(circuit.StateClosed), ep.CircuitState)
	assert.Equal(t, 60, ep.RateLimit)
	assert.Equal(t, 0, ep.RateUsed)
}

func TestBearerAuth(t *testing.T) {
	f := newAPIFixture(t, WithAuthToken("hub-secret"))

	// Health stays open for probes.
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/queue", "operator", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("X-Caller-ID", "operator")
	req.Header.Set("Authorization", "Bearer hub-secret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	out = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestServerStartAndShutdown(t *testing.T) {
	f := newAPIFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.server.StartWithListener(ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 5*time.Second, 25*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	require.ErrorIs(t, <-errCh, http.ErrServerClosed)
}
