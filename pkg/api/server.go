// Package api is the hub's HTTP surface: the JSON-RPC 2.0 front-end on
// /rpc, a read-mostly REST surface for operators, the live audit
// WebSocket stream, and Prometheus metrics.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/queue"
	"github.com/polyhub/polyhub/pkg/ratelimit"
	"github.com/polyhub/polyhub/pkg/rbac"
	"github.com/polyhub/polyhub/pkg/tools"
)

// Server hosts the hub's HTTP endpoints.
type Server struct {
	echo *echo.Echo
	http *http.Server

	tools     *tools.Registry
	chains    *chain.Engine
	queue     *queue.Queue
	pool      *queue.WorkerPool
	audit     *audit.Log
	circuits  *circuit.Registry
	limiter   *ratelimit.Limiter
	endpoints *config.EndpointRegistry
	rbac      *rbac.Checker

	authToken string
}

// ServerDeps carries the components the HTTP surface exposes.
type ServerDeps struct {
	Tools     *tools.Registry
	Chains    *chain.Engine
	Queue     *queue.Queue
	Pool      *queue.WorkerPool
	Audit     *audit.Log
	Circuits  *circuit.Registry
	Limiter   *ratelimit.Limiter
	Endpoints *config.EndpointRegistry
	RBAC      *rbac.Checker
}

// ServerOption tunes a Server.
type ServerOption func(*Server)

// WithAuthToken enables static bearer-token auth on everything except
// /health and /metrics.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = token }
}

// NewServer wires the routes and middleware.
func NewServer(deps ServerDeps, opts ...ServerOption) *Server {
	s := &Server{
		tools:     deps.Tools,
		chains:    deps.Chains,
		queue:     deps.Queue,
		pool:      deps.Pool,
		audit:     deps.Audit,
		circuits:  deps.Circuits,
		limiter:   deps.Limiter,
		endpoints: deps.Endpoints,
		rbac:      deps.RBAC,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.Use(requestLogger())
	e.Use(recoverPanics())
	e.Use(securityHeaders())
	e.Use(callerIdentity())
	if s.authToken != "" {
		e.Use(bearerAuth(s.authToken))
	}

	metricsHandler := promhttp.Handler()
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	e.POST("/rpc", s.rpcHandler)
	e.POST("/mcp", s.rpcHandler)

	e.GET("/api/v1/endpoints", s.endpointsHandler)
	e.GET("/api/v1/chains", s.listChainsHandler)
	e.POST("/api/v1/chains", s.startChainHandler)
	e.GET("/api/v1/chains/:id", s.getChainHandler)
	e.POST("/api/v1/chains/:id/cancel", s.cancelChainHandler)
	e.POST("/api/v1/chains/:id/pause", s.pauseChainHandler)
	e.POST("/api/v1/chains/:id/resume", s.resumeChainHandler)
	e.GET("/api/v1/chains/:id/logs", s.chainLogsHandler)
	e.GET("/api/v1/queue", s.queueHandler)
	e.GET("/api/v1/audit/recent", s.auditRecentHandler)

	e.GET("/ws/audit", s.auditStreamHandler)

	s.echo = e
	return s
}

// Start serves on addr until Shutdown. Returns http.ErrServerClosed on
// clean shutdown like net/http.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests bind
// 127.0.0.1:0 and pass the listener in.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.Serve(ln)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
