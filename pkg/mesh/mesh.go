// Package mesh is the guarded call fabric over the registered LLM
// endpoints. Every outbound call passes RBAC, cycle detection, rate
// limiting, and the circuit breaker (with fallback routing) before the
// upstream request, and every call leaves exactly one llm_call audit
// entry behind.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/llm"
	"github.com/polyhub/polyhub/pkg/observability"
	"github.com/polyhub/polyhub/pkg/ratelimit"
	"github.com/polyhub/polyhub/pkg/rbac"
	"github.com/polyhub/polyhub/pkg/trace"
)

// DefaultCallTimeout bounds one upstream call when neither the input nor
// the endpoint configures a timeout.
const DefaultCallTimeout = 120 * time.Second

// Rejection reason codes carried in CallResult.Error. Guard denials are
// values, not errors; callers branch on Success.
const (
	reasonRBACDenied  = "rbac denied"
	reasonRateLimited = "rate limit exceeded"
	reasonCircuitOpen = "circuit open, no fallback available"
)

// Deps bundles the components the mesh guards with.
type Deps struct {
	RBAC      *rbac.Checker
	Cycles    *trace.CycleDetector
	Limiter   *ratelimit.Limiter
	Circuits  *circuit.Registry
	Audit     *audit.Log
	Endpoints *config.EndpointRegistry
	Clients   map[string]llm.Client
	Metrics   *observability.Metrics
}

// Mesh exposes the four guarded primitives: Call, Broadcast, Consensus,
// and Delegate.
type Mesh struct {
	rbac      *rbac.Checker
	cycles    *trace.CycleDetector
	limiter   *ratelimit.Limiter
	circuits  *circuit.Registry
	audit     *audit.Log
	endpoints *config.EndpointRegistry
	clients   map[string]llm.Client
	metrics   *observability.Metrics

	lead        string
	callTimeout time.Duration
}

// Option tunes mesh construction.
type Option func(*Mesh)

// WithLead sets the default lead endpoint used for consensus analysis and
// delegation fallback.
func WithLead(endpoint string) Option {
	return func(m *Mesh) { m.lead = endpoint }
}

// WithCallTimeout sets the default upstream call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Mesh) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// New creates the mesh. Clients map endpoint ids to upstream clients; an
// endpoint without a client refuses calls with a structured failure.
func New(deps Deps, opts ...Option) *Mesh {
	m := &Mesh{
		rbac:        deps.RBAC,
		cycles:      deps.Cycles,
		limiter:     deps.Limiter,
		circuits:    deps.Circuits,
		audit:       deps.Audit,
		endpoints:   deps.Endpoints,
		clients:     deps.Clients,
		metrics:     deps.Metrics,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lead returns the configured default lead endpoint.
func (m *Mesh) Lead() string { return m.lead }

// CallInput describes one guarded call.
type CallInput struct {
	// Target is the endpoint alias to invoke.
	Target string
	// Prompt is the user message.
	Prompt string
	// Caller is the identity charged for the call.
	Caller string
	// TraceID ties the call into an existing trace. Auto-generated when
	// empty.
	TraceID string
	// SystemPrompt is optional.
	SystemPrompt string
	// Timeout overrides the endpoint and mesh defaults when positive.
	Timeout time.Duration
	// MaxTokens caps the completion when positive.
	MaxTokens int
}

// CallResult is the structured outcome of one guarded call. Guard
// denials and upstream faults both land here with Success false.
type CallResult struct {
	Success      bool    `json:"success"`
	Response     string  `json:"response,omitempty"`
	Error        string  `json:"error,omitempty"`
	ActualTarget string  `json:"actual_target,omitempty"`
	FallbackUsed string  `json:"fallback_used,omitempty"`
	TraceID      string  `json:"trace_id"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TokensUsed   int     `json:"tokens_used,omitempty"`
	WaitSeconds  float64 `json:"wait_seconds,omitempty"`
}

// Call invokes one endpoint through the full guard pipeline: RBAC, cycle
// detection, rate limit, circuit breaker with fallback resolution, then
// the upstream request. Guard denials return a structured failure without
// touching downstream state.
func (m *Mesh) Call(ctx context.Context, in CallInput) *CallResult {
	if in.TraceID == "" {
		in.TraceID = trace.NewID()
	}

	// 1. RBAC.
	if !m.rbac.CanCall(in.Caller, in.Target) {
		m.audit.Record(audit.Entry{
			TraceID:        in.TraceID,
			CallerID:       in.Caller,
			Action:         audit.ActionRBACDenied,
			Level:          audit.LevelSecurity,
			TargetEndpoint: in.Target,
			ErrorMessage:   reasonRBACDenied,
		})
		m.metrics.ObserveMeshCall(in.Target, "rejected", 0)
		return &CallResult{Success: false, Error: reasonRBACDenied, TraceID: in.TraceID}
	}

	// 2. Cycle detection.
	if !m.cycles.AddToChain(in.TraceID, in.Target) {
		chain := append(m.cycles.ChainFor(in.TraceID), in.Target)
		reason := fmt.Sprintf("cycle detected: %s",
			trace.FormatChain(m.cycles.ChainFor(in.TraceID), in.Target))
		m.audit.Record(audit.Entry{
			TraceID:        in.TraceID,
			CallerID:       in.Caller,
			Action:         audit.ActionCycleDetected,
			Level:          audit.LevelSecurity,
			TargetEndpoint: in.Target,
			ErrorMessage:   reason,
			Metadata:       map[string]any{"call_chain": chain},
		})
		m.metrics.ObserveMeshCall(in.Target, "rejected", 0)
		return &CallResult{Success: false, Error: reason, TraceID: in.TraceID}
	}
	// From here on the chain entry must be unwound on every path.

	// 3. Rate limit.
	if !m.limiter.Admit(in.Target) {
		wait := m.limiter.WaitTime(in.Target).Seconds()
		reason := fmt.Sprintf("%s for %s", reasonRateLimited, in.Target)
		m.audit.Record(audit.Entry{
			TraceID:        in.TraceID,
			CallerID:       in.Caller,
			Action:         "rate_limited",
			Level:          audit.LevelWarn,
			TargetEndpoint: in.Target,
			ErrorMessage:   reason,
			Metadata:       map[string]any{"wait_seconds": wait},
		})
		m.cycles.PopFromChain(in.TraceID)
		m.metrics.ObserveMeshCall(in.Target, "rejected", 0)
		return &CallResult{
			Success: false, Error: reason, TraceID: in.TraceID, WaitSeconds: wait,
		}
	}

	// 4. Circuit breaker, with one fallback attempt.
	actual := in.Target
	fallbackUsed := ""
	if !m.circuits.Allow(in.Target) {
		alt, ok := m.circuits.Fallback(in.Target)
		if !ok {
			m.audit.Record(audit.Entry{
				TraceID:        in.TraceID,
				CallerID:       in.Caller,
				Action:         "circuit_open",
				Level:          audit.LevelWarn,
				TargetEndpoint: in.Target,
				ErrorMessage:   reasonCircuitOpen,
			})
			m.cycles.PopFromChain(in.TraceID)
			m.metrics.ObserveMeshCall(in.Target, "rejected", 0)
			return &CallResult{Success: false, Error: reasonCircuitOpen, TraceID: in.TraceID}
		}
		actual = alt
		fallbackUsed = alt
		slog.Info("Circuit open, routing to fallback",
			"target", in.Target, "fallback", alt, "trace_id", in.TraceID)
	}

	result := m.execute(ctx, in, actual, fallbackUsed)
	m.cycles.PopFromChain(in.TraceID)
	return result
}

// execute resolves the alias and performs the upstream request. The
// circuit slot reserved for actual is balanced here with RecordSuccess or
// RecordFailure.
func (m *Mesh) execute(ctx context.Context, in CallInput, actual, fallbackUsed string) *CallResult {
	ep, err := m.endpoints.Get(actual)
	if err != nil {
		m.circuits.RecordFailure(actual)
		return m.failed(in, actual, fallbackUsed, 0, fmt.Sprintf("unknown endpoint: %s", actual))
	}
	if ep.Disabled {
		m.circuits.RecordFailure(actual)
		return m.failed(in, actual, fallbackUsed, 0, fmt.Sprintf("endpoint disabled: %s", actual))
	}
	client, ok := m.clients[actual]
	if !ok {
		m.circuits.RecordFailure(actual)
		return m.failed(in, actual, fallbackUsed, 0, fmt.Sprintf("no client for endpoint: %s", actual))
	}

	timeout := m.callTimeout
	if ep.Timeout > 0 {
		timeout = ep.Timeout
	}
	if in.Timeout > 0 {
		timeout = in.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Generate(callCtx, &llm.Request{
		System:    in.SystemPrompt,
		Prompt:    in.Prompt,
		MaxTokens: in.MaxTokens,
	})
	elapsed := time.Since(start)

	if err != nil {
		m.circuits.RecordFailure(actual)
		return m.failed(in, actual, fallbackUsed, elapsed, err.Error())
	}

	m.circuits.RecordSuccess(actual)
	m.audit.Record(audit.Entry{
		TraceID:         in.TraceID,
		CallerID:        in.Caller,
		Action:          audit.ActionLLMCall,
		Level:           audit.LevelInfo,
		TargetEndpoint:  actual,
		ResultStatus:    "success",
		ExecutionTimeMs: elapsed.Milliseconds(),
		Metadata:        callMetadata(in.Target, fallbackUsed, resp.Model),
	})
	m.metrics.ObserveMeshCall(actual, "success", elapsed.Seconds())

	return &CallResult{
		Success:      true,
		Response:     resp.Content,
		ActualTarget: actual,
		FallbackUsed: fallbackUsed,
		TraceID:      in.TraceID,
		DurationMs:   elapsed.Milliseconds(),
		TokensUsed:   resp.TokensUsed,
	}
}

// failed records the error-path llm_call audit entry and builds the result.
func (m *Mesh) failed(in CallInput, actual, fallbackUsed string, elapsed time.Duration, errMsg string) *CallResult {
	m.audit.Record(audit.Entry{
		TraceID:         in.TraceID,
		CallerID:        in.Caller,
		Action:          audit.ActionLLMCall,
		Level:           audit.LevelError,
		TargetEndpoint:  actual,
		ResultStatus:    "error",
		ExecutionTimeMs: elapsed.Milliseconds(),
		ErrorMessage:    errMsg,
		Metadata:        callMetadata(in.Target, fallbackUsed, ""),
	})
	m.metrics.ObserveMeshCall(actual, "error", elapsed.Seconds())
	return &CallResult{
		Success:      false,
		Error:        errMsg,
		ActualTarget: actual,
		FallbackUsed: fallbackUsed,
		TraceID:      in.TraceID,
		DurationMs:   elapsed.Milliseconds(),
	}
}

func callMetadata(requested, fallbackUsed, model string) map[string]any {
	md := map[string]any{"requested_target": requested}
	if fallbackUsed != "" {
		md["fallback_used"] = fallbackUsed
	}
	if model != "" {
		md["model"] = model
	}
	return md
}
