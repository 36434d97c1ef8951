// Package e2e provides end-to-end test infrastructure for the hub:
// a fully wired PolyHub instance on a random port with scripted upstream
// clients standing in for the model HTTP APIs.
package e2e

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/api"
	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/llm"
	"github.com/polyhub/polyhub/pkg/memory"
	"github.com/polyhub/polyhub/pkg/mesh"
	"github.com/polyhub/polyhub/pkg/queue"
	"github.com/polyhub/polyhub/pkg/ratelimit"
	"github.com/polyhub/polyhub/pkg/rbac"
	"github.com/polyhub/polyhub/pkg/tools"
	"github.com/polyhub/polyhub/pkg/trace"
)

// TestHub boots a complete hub instance for e2e testing.
type TestHub struct {
	// Scripted upstreams, keyed by endpoint alias.
	Upstreams map[string]*llm.ScriptedClient

	// Real components.
	Audit    *audit.Log
	Memory   *memory.Store
	Mesh     *mesh.Mesh
	Chains   *chain.Engine
	Queue    *queue.Queue
	Pool     *queue.WorkerPool
	Registry *tools.Registry
	Server   *api.Server

	// Runtime.
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws/audit"

	t *testing.T
}

// testHubConfig holds options accumulated before creating the TestHub.
type testHubConfig struct {
	endpoints   map[string]*config.EndpointConfig
	roles       map[string]rbac.Role
	profiles    map[string]*config.ProfileConfig
	workerCount int
	maxCycles   int
	rateLimit   int
	authToken   string
}

// TestHubOption configures the test hub.
type TestHubOption func(*testHubConfig)

// WithEndpoint adds or replaces an endpoint definition. Each endpoint
// gets its own scripted upstream client.
func WithEndpoint(name string, cfg *config.EndpointConfig) TestHubOption {
	return func(c *testHubConfig) { c.endpoints[name] = cfg }
}

// WithRole assigns a role to a caller identity.
func WithRole(caller string, role rbac.Role) TestHubOption {
	return func(c *testHubConfig) { c.roles[caller] = role }
}

// WithProfile registers an autoprompt profile.
func WithProfile(name string, profile *config.ProfileConfig) TestHubOption {
	return func(c *testHubConfig) { c.profiles[name] = profile }
}

// WithWorkerCount sets the number of worker pool goroutines.
func WithWorkerCount(n int) TestHubOption {
	return func(c *testHubConfig) { c.workerCount = n }
}

// WithMaxCycles caps chain plan/dispatch/consolidate rounds.
func WithMaxCycles(n int) TestHubOption {
	return func(c *testHubConfig) { c.maxCycles = n }
}

// WithRateLimit sets the default per-endpoint requests-per-minute cap.
func WithRateLimit(n int) TestHubOption {
	return func(c *testHubConfig) { c.rateLimit = n }
}

// WithAuthToken enables bearer auth on the HTTP surface.
func WithAuthToken(token string) TestHubOption {
	return func(c *testHubConfig) { c.authToken = token }
}

func defaultEndpoints() map[string]*config.EndpointConfig {
	return map[string]*config.EndpointConfig{
		"alpha": {
			Type:         config.ProviderAnthropic,
			Model:        "model-a",
			Capabilities: []config.Capability{config.CapabilityGeneral, config.CapabilityReasoning},
		},
		"beta": {
			Type:         config.ProviderOpenAI,
			Model:        "model-b",
			Capabilities: []config.Capability{config.CapabilityGeneral, config.CapabilityResearch, config.CapabilityCode},
		},
	}
}

// NewTestHub creates and starts a full hub test instance. Shutdown is
// registered via t.Cleanup in reverse wiring order.
func NewTestHub(t *testing.T, opts ...TestHubOption) *TestHub {
	t.Helper()

	tc := &testHubConfig{
		endpoints: defaultEndpoints(),
		roles: map[string]rbac.Role{
			"operator":     rbac.RoleAdmin,
			"alpha":        rbac.RoleLead,
			"beta":         rbac.RoleWorker,
			"worker_pool":  rbac.RoleLead,
			"chain_engine": rbac.RoleLead,
		},
		profiles:    map[string]*config.ProfileConfig{},
		workerCount: 1,
		maxCycles:   5,
		rateLimit:   600,
	}
	for _, opt := range opts {
		opt(tc)
	}

	ctx := context.Background()
	dataDir := t.TempDir()

	// 1. Audit log, flushing every entry so subscribers and files stay
	// current in tests.
	auditLog, err := audit.New(audit.Config{
		Dir:            filepath.Join(dataDir, "audit"),
		FlushThreshold: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	// 2. Memory store.
	memStore, err := memory.NewStore(memory.Config{Dir: filepath.Join(dataDir, "memory")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = memStore.Close() })

	// 3. Guard stack.
	checker := rbac.NewChecker(tc.roles)
	circuits := circuit.NewRegistry(circuit.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})
	limiter := ratelimit.NewLimiter(tc.rateLimit)
	cycles := trace.NewCycleDetector(trace.DefaultMaxDepth)

	// 4. Scripted upstreams, one per endpoint.
	upstreams := make(map[string]*llm.ScriptedClient, len(tc.endpoints))
	clients := make(map[string]llm.Client, len(tc.endpoints))
	for name, ep := range tc.endpoints {
		sc := llm.NewScriptedClient()
		upstreams[name] = sc
		clients[name] = sc
		if ep.RateLimit > 0 {
			limiter.SetLimit(name, ep.RateLimit)
		}
		if ep.Fallback != "" {
			circuits.SetFallback(name, ep.Fallback)
		}
	}

	// 5. Mesh.
	hubMesh := mesh.New(mesh.Deps{
		RBAC:      checker,
		Cycles:    cycles,
		Limiter:   limiter,
		Circuits:  circuits,
		Audit:     auditLog,
		Endpoints: config.NewEndpointRegistry(tc.endpoints),
		Clients:   clients,
	}, mesh.WithLead("alpha"))

	// 6. Chain engine.
	engine := chain.New(chain.Deps{
		Mesh:     hubMesh,
		Profiles: config.NewProfileRegistry(tc.profiles),
		Audit:    auditLog,
	}, &config.ChainConfig{
		Lead:          "alpha",
		MaxCycles:     tc.maxCycles,
		MaxParallel:   2,
		WorkspaceRoot: filepath.Join(dataDir, "chains"),
		TaskTimeout:   30 * time.Second,
	})
	t.Cleanup(engine.Wait)

	// 7. Queue and worker pool with a fast poll for tests.
	cmdQueue, err := queue.New(queue.Config{
		SnapshotPath: filepath.Join(dataDir, "queue_state.json"),
	})
	require.NoError(t, err)
	for name, ep := range tc.endpoints {
		caps := make([]string, 0, len(ep.Capabilities))
		for _, c := range ep.Capabilities {
			caps = append(caps, string(c))
		}
		cmdQueue.RegisterAgent(queue.Agent{ID: name, Capabilities: caps})
	}

	pool := queue.NewWorkerPool(cmdQueue, &config.QueueConfig{
		WorkerCount:        tc.workerCount,
		PollInterval:       50 * time.Millisecond,
		PollIntervalJitter: 10 * time.Millisecond,
		CommandTimeout:     10 * time.Second,
	}, queue.NewMeshExecutor(hubMesh, "worker_pool"))
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	// 8. Tool registry.
	registry := tools.NewRegistry(checker, auditLog, nil)
	endpointRegistry := config.NewEndpointRegistry(tc.endpoints)
	require.NoError(t, tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Mesh:      hubMesh,
		Chains:    engine,
		Queue:     cmdQueue,
		Memory:    memStore,
		Audit:     auditLog,
		Endpoints: endpointRegistry,
		Health: func() map[string]any {
			return map[string]any{"queue_depth": cmdQueue.Depth()}
		},
	}))

	// 9. HTTP server on a random port.
	serverOpts := []api.ServerOption{}
	if tc.authToken != "" {
		serverOpts = append(serverOpts, api.WithAuthToken(tc.authToken))
	}
	server := api.NewServer(api.ServerDeps{
		Tools:     registry,
		Chains:    engine,
		Queue:     cmdQueue,
		Pool:      pool,
		Audit:     auditLog,
		Circuits:  circuits,
		Limiter:   limiter,
		Endpoints: endpointRegistry,
		RBAC:      checker,
	}, serverOpts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	addr := ln.Addr().String()
	return &TestHub{
		Upstreams: upstreams,
		Audit:     auditLog,
		Memory:    memStore,
		Mesh:      hubMesh,
		Chains:    engine,
		Queue:     cmdQueue,
		Pool:      pool,
		Registry:  registry,
		Server:    server,
		BaseURL:   fmt.Sprintf("http://%s", addr),
		WSURL:     fmt.Sprintf("ws://%s/ws/audit", addr),
		t:         t,
	}
}
