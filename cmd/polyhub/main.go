// PolyHub orchestrator server — hosts the LLM mesh, command queue,
// chain engine, and the JSON-RPC tool surface over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/polyhub/polyhub/pkg/api"
	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/llm"
	"github.com/polyhub/polyhub/pkg/memory"
	"github.com/polyhub/polyhub/pkg/mesh"
	"github.com/polyhub/polyhub/pkg/observability"
	"github.com/polyhub/polyhub/pkg/queue"
	"github.com/polyhub/polyhub/pkg/ratelimit"
	"github.com/polyhub/polyhub/pkg/rbac"
	"github.com/polyhub/polyhub/pkg/tools"
	"github.com/polyhub/polyhub/pkg/trace"
	"github.com/polyhub/polyhub/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting PolyHub",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"endpoints", stats.Endpoints,
		"profiles", stats.Profiles,
		"roles", stats.Roles)

	// 2. Metrics
	metrics := observability.New()

	// 3. Audit log
	auditLog, err := audit.New(audit.Config{
		Dir:            cfg.Audit.Dir,
		RingSize:       cfg.Audit.RingSize,
		FlushThreshold: cfg.Audit.FlushThreshold,
	})
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}

	// 4. Memory store and expiry sweeper
	memStore, err := memory.NewStore(memory.Config{
		Dir:        cfg.Memory.Dir,
		MaxEntries: cfg.Memory.MaxEntries,
	})
	if err != nil {
		slog.Error("Failed to open memory store", "error", err)
		os.Exit(1)
	}
	sweeper := memory.NewSweeper(memStore, cfg.Memory.SweepInterval)
	sweeper.Start(ctx)

	// 5. RBAC from configured role assignments
	assignments := make(map[string]rbac.Role, len(cfg.Roles))
	for caller, name := range cfg.Roles {
		role := rbac.Role(name)
		if !role.IsValid() {
			slog.Warn("Ignoring invalid role assignment", "caller", caller, "role", name)
			continue
		}
		assignments[caller] = role
	}
	// Internal identities need mesh access unless the operator overrides
	// them explicitly.
	for _, internal := range []string{chain.DefaultCaller, "worker_pool"} {
		if _, ok := assignments[internal]; !ok {
			assignments[internal] = rbac.RoleLead
		}
	}
	checker := rbac.NewChecker(assignments)

	// 6. Guard stack: circuit breakers, rate limiter, cycle detector
	circuits := circuit.NewRegistry(circuit.Config{
		FailureThreshold: cfg.Mesh.Circuit.FailureThreshold,
		RecoveryTimeout:  cfg.Mesh.Circuit.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Mesh.Circuit.HalfOpenMaxCalls,
	})
	limiter := ratelimit.NewLimiter(cfg.Mesh.DefaultRateLimit)
	cycles := trace.NewCycleDetector(cfg.Mesh.MaxTraceDepth)

	// 7. Upstream clients, one per enabled endpoint. A client that fails
	// to construct leaves its endpoint refusing calls instead of taking
	// the hub down.
	clients := make(map[string]llm.Client)
	for _, name := range cfg.EndpointRegistry.Names() {
		ep, err := cfg.GetEndpoint(name)
		if err != nil || ep.Disabled {
			continue
		}
		if ep.RateLimit > 0 {
			limiter.SetLimit(name, ep.RateLimit)
		}
		if ep.Fallback != "" {
			circuits.SetFallback(name, ep.Fallback)
		}
		client, err := llm.NewClient(name, ep)
		if err != nil {
			slog.Error("Skipping endpoint with unusable client", "endpoint", name, "error", err)
			continue
		}
		clients[name] = client
	}
	slog.Info("Upstream clients initialized", "count", len(clients))

	// 8. The mesh
	hubMesh := mesh.New(mesh.Deps{
		RBAC:      checker,
		Cycles:    cycles,
		Limiter:   limiter,
		Circuits:  circuits,
		Audit:     auditLog,
		Endpoints: cfg.EndpointRegistry,
		Clients:   clients,
		Metrics:   metrics,
	},
		mesh.WithLead(cfg.Chains.Lead),
		mesh.WithCallTimeout(cfg.Mesh.CallTimeout),
	)

	// 9. Chain engine
	engine := chain.New(chain.Deps{
		Mesh:     hubMesh,
		Profiles: cfg.ProfileRegistry,
		Audit:    auditLog,
		Metrics:  metrics,
	}, cfg.Chains)

	// 10. Command queue and worker pool (workers start before HTTP)
	cmdQueue, err := queue.New(queue.Config{
		MaxSize:      cfg.Queue.MaxQueueSize,
		SnapshotPath: cfg.Queue.SnapshotPath,
		Metrics:      metrics,
	})
	if err != nil {
		slog.Error("Failed to initialize command queue", "error", err)
		os.Exit(1)
	}
	for _, name := range cfg.EndpointRegistry.Names() {
		ep, err := cfg.GetEndpoint(name)
		if err != nil || ep.Disabled {
			continue
		}
		caps := make([]string, 0, len(ep.Capabilities))
		for _, c := range ep.Capabilities {
			caps = append(caps, string(c))
		}
		cmdQueue.RegisterAgent(queue.Agent{ID: name, Capabilities: caps})
	}

	executor := queue.NewMeshExecutor(hubMesh, "worker_pool")
	pool := queue.NewWorkerPool(cmdQueue, cfg.Queue, executor)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 11. Tool registry with the builtin tool set
	registry := tools.NewRegistry(checker, auditLog, metrics)
	err = tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Mesh:      hubMesh,
		Chains:    engine,
		Queue:     cmdQueue,
		Memory:    memStore,
		Audit:     auditLog,
		Endpoints: cfg.EndpointRegistry,
		Health: func() map[string]any {
			return map[string]any{
				"version":       version.Full(),
				"endpoints":     cfg.EndpointRegistry.Len(),
				"queue_depth":   cmdQueue.Depth(),
				"active_chains": engine.ActiveCount(),
				"pool":          pool.Health(),
			}
		},
	})
	if err != nil {
		slog.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tool registry initialized", "tools", registry.Len())

	// 12. HTTP server
	serverOpts := []api.ServerOption{}
	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		serverOpts = append(serverOpts, api.WithAuthToken(token))
		slog.Info("Bearer auth enabled")
	}
	server := api.NewServer(api.ServerDeps{
		Tools:     registry,
		Chains:    engine,
		Queue:     cmdQueue,
		Pool:      pool,
		Audit:     auditLog,
		Circuits:  circuits,
		Limiter:   limiter,
		Endpoints: cfg.EndpointRegistry,
		RBAC:      checker,
	}, serverOpts...)

	// 13. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("PolyHub started successfully",
		"workers", cfg.Queue.WorkerCount,
		"lead", cfg.Chains.Lead)

	// 14. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 15. Graceful shutdown: HTTP first so no new work arrives, then the
	// workers, then the chains, then the state-holding components.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	poolDone := make(chan struct{})
	go func() {
		pool.Stop()
		close(poolDone)
	}()
	select {
	case <-poolDone:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout):
		slog.Warn("Worker pool shutdown timeout exceeded")
	}

	for _, ch := range engine.List() {
		if !ch.Status.Terminal() {
			if err := engine.Cancel(ch.ChainID); err != nil {
				slog.Warn("Failed to cancel chain during shutdown", "chain_id", ch.ChainID, "error", err)
			}
		}
	}
	chainsDone := make(chan struct{})
	go func() {
		engine.Wait()
		close(chainsDone)
	}()
	select {
	case <-chainsDone:
		slog.Info("Chain engine drained")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout):
		slog.Warn("Chain engine shutdown timeout exceeded")
	}

	sweeper.Stop()
	if err := memStore.Close(); err != nil {
		slog.Error("Memory store close error", "error", err)
	}
	if err := auditLog.Close(); err != nil {
		slog.Error("Audit log close error", "error", err)
	}

	slog.Info("Shutdown complete")
}
