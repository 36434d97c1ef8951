package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/observability"
	"github.com/polyhub/polyhub/pkg/rbac"
)

// DefaultHandlerTimeout bounds one handler invocation unless the registry
// is configured otherwise.
const DefaultHandlerTimeout = 5 * time.Minute

type registration struct {
	tool     Tool
	handler  Handler
	compiled *jsonschema.Schema
}

// Registry is the canonical tool dispatcher. Registration is additive at
// startup and at runtime; invocation runs the fixed pipeline of lookup,
// RBAC, schema validation, handler execution, and audit.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration

	rbac    *rbac.Checker
	audit   *audit.Log
	metrics *observability.Metrics
	timeout time.Duration
}

// RegistryOption tunes registry construction.
type RegistryOption func(*Registry)

// WithHandlerTimeout overrides the per-invocation handler timeout.
func WithHandlerTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(checker *rbac.Checker, log *audit.Log, metrics *observability.Metrics, opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]registration),
		rbac:    checker,
		audit:   log,
		metrics: metrics,
		timeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Duplicate names and schemas that fail to compile
// are rejected.
func (r *Registry) Register(tool Tool, handler Handler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler required", tool.Name)
	}

	var compiled *jsonschema.Schema
	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %s: encode schema: %w", tool.Name, err)
		}
		compiled, err = jsonschema.CompileString(tool.Name+".schema.json", string(raw))
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", tool.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = registration{tool: tool, handler: handler, compiled: compiled}
	slog.Debug("Tool registered", "tool", tool.Name, "category", tool.Category)
	return nil
}

// MustRegister panics on registration failure. For builtin wiring at
// startup, where a failure is a programming error.
func (r *Registry) MustRegister(tool Tool, handler Handler) {
	if err := r.Register(tool, handler); err != nil {
		panic(err)
	}
}

// RegisterAlias exposes an existing tool under a second name, keeping
// its handler, schema, and permission. Runtime registration over the
// wire is limited to aliasing; native handlers register in code.
func (r *Registry) RegisterAlias(alias, existing, description string) error {
	if alias == "" {
		return fmt.Errorf("alias name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.tools[existing]
	if !ok {
		return fmt.Errorf("unknown tool: %s", existing)
	}
	if _, exists := r.tools[alias]; exists {
		return fmt.Errorf("tool already registered: %s", alias)
	}
	tool := src.tool
	tool.Name = alias
	if description != "" {
		tool.Description = description
	}
	r.tools[alias] = registration{tool: tool, handler: src.handler, compiled: src.compiled}
	slog.Info("Tool alias registered", "alias", alias, "tool", existing)
	return nil
}

// Get returns the tool description for a name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ListFor returns the tools the caller is allowed to invoke, sorted by
// name.
func (r *Registry) ListFor(caller string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		if r.rbac.CanUseTool(caller, reg.tool.RequiredPermission) {
			out = append(out, reg.tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call dispatches one tool invocation through the full pipeline. The
// outcome is always non-nil; handler errors and guard denials are values.
func (r *Registry) Call(ctx context.Context, name string, params map[string]any, inv Invocation) *Outcome {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &Outcome{Success: false, Refused: true, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	if !r.rbac.CanUseTool(inv.Caller, reg.tool.RequiredPermission) {
		r.audit.Record(audit.Entry{
			TraceID:      inv.TraceID,
			CallerID:     inv.Caller,
			Action:       audit.ActionRBACDenied,
			Level:        audit.LevelSecurity,
			ToolName:     name,
			ErrorMessage: "rbac denied",
		})
		r.metrics.ObserveToolCall(name, "denied")
		return &Outcome{Success: false, Refused: true, Error: "rbac denied"}
	}

	if reg.compiled != nil {
		if err := validateParams(reg.compiled, params); err != nil {
			out := &Outcome{Success: false, Refused: true, Error: fmt.Sprintf("invalid params: %v", err)}
			r.recordCall(name, params, inv, out)
			return out
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.invoke(callCtx, reg.handler, params, inv)
	elapsed := time.Since(start)

	out := &Outcome{ExecutionTimeMs: elapsed.Milliseconds()}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Success = true
		out.Result = result
	}
	r.recordCall(name, params, inv, out)
	return out
}

// invoke runs the handler with panic containment. A panicking handler
// becomes an ordinary error at the pipeline boundary.
func (r *Registry) invoke(ctx context.Context, handler Handler, params map[string]any, inv Invocation) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool handler panicked", "caller", inv.Caller, "panic", rec)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, params, inv)
}

// recordCall emits the single tool_call audit entry every invocation
// produces once it passes RBAC.
func (r *Registry) recordCall(name string, params map[string]any, inv Invocation, out *Outcome) {
	status := "success"
	level := audit.LevelInfo
	if !out.Success {
		status = "error"
		level = audit.LevelError
	}
	r.audit.Record(audit.Entry{
		TraceID:         inv.TraceID,
		CallerID:        inv.Caller,
		Action:          audit.ActionToolCall,
		Level:           level,
		ToolName:        name,
		Params:          audit.SanitizeParams(params),
		ResultStatus:    status,
		ExecutionTimeMs: out.ExecutionTimeMs,
		ErrorMessage:    out.Error,
	})
	r.metrics.ObserveToolCall(name, status)
}

// validateParams round-trips params through JSON so the validator sees
// plain decoded values, then checks them against the compiled schema.
func validateParams(schema *jsonschema.Schema, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

// ObjectSchema builds the common type=object input schema shape.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
