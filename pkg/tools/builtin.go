package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/chain"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/memory"
	"github.com/polyhub/polyhub/pkg/mesh"
	"github.com/polyhub/polyhub/pkg/queue"
	"github.com/polyhub/polyhub/pkg/rbac"
)

// MeshAPI is the slice of the mesh the builtin tools use.
type MeshAPI interface {
	Call(ctx context.Context, in mesh.CallInput) *mesh.CallResult
	Broadcast(ctx context.Context, in mesh.BroadcastInput) *mesh.BroadcastResult
	Consensus(ctx context.Context, in mesh.BroadcastInput) *mesh.ConsensusResult
	Delegate(ctx context.Context, in mesh.DelegateInput) *mesh.DelegateResult
}

// ChainAPI is the slice of the chain engine the builtin tools use.
type ChainAPI interface {
	StartChain(in chain.StartInput) (*chain.Chain, error)
	Status(chainID string) (*chain.Chain, error)
	Cancel(chainID string) error
	List() []*chain.Chain
	Logs(chainID string) ([]*chain.Cycle, error)
}

// BuiltinDeps carries the hub components the builtin tools wrap.
type BuiltinDeps struct {
	Mesh      MeshAPI
	Chains    ChainAPI
	Queue     *queue.Queue
	Memory    *memory.Store
	Audit     *audit.Log
	Endpoints *config.EndpointRegistry

	// Health reports a hub-wide health snapshot. Optional.
	Health func() map[string]any
}

// RegisterBuiltins installs the hub's own tool set. Each tool is a thin
// adapter over one core component; nil dependencies skip their tools.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	register := func(tool Tool, handler Handler) error { return r.Register(tool, handler) }

	if err := register(echoTool(), echoHandler); err != nil {
		return err
	}
	if err := register(healthTool(), healthHandler(deps.Health)); err != nil {
		return err
	}
	if deps.Mesh != nil {
		for _, pair := range meshTools(deps.Mesh) {
			if err := register(pair.tool, pair.handler); err != nil {
				return err
			}
		}
	}
	if deps.Memory != nil {
		for _, pair := range memoryTools(deps.Memory) {
			if err := register(pair.tool, pair.handler); err != nil {
				return err
			}
		}
	}
	if deps.Chains != nil {
		for _, pair := range chainTools(deps.Chains) {
			if err := register(pair.tool, pair.handler); err != nil {
				return err
			}
		}
	}
	if deps.Queue != nil {
		for _, pair := range queueTools(deps.Queue) {
			if err := register(pair.tool, pair.handler); err != nil {
				return err
			}
		}
	}
	if deps.Audit != nil {
		if err := register(auditQueryTool(), auditQueryHandler(deps.Audit)); err != nil {
			return err
		}
	}
	if deps.Endpoints != nil {
		if err := register(endpointListTool(), endpointListHandler(deps.Endpoints)); err != nil {
			return err
		}
	}
	return register(toolRegisterTool(), toolRegisterHandler(r))
}

type toolPair struct {
	tool    Tool
	handler Handler
}

func echoTool() Tool {
	return Tool{
		Name:               "echo",
		Description:        "Returns the given params unchanged. Useful for connectivity checks.",
		InputSchema:        ObjectSchema(map[string]any{}),
		RequiredPermission: rbac.PermHealthCheck,
		Category:           "core",
	}
}

func echoHandler(_ context.Context, params map[string]any, _ Invocation) (any, error) {
	return params, nil
}

func healthTool() Tool {
	return Tool{
		Name:               "health_check",
		Description:        "Reports hub component health.",
		InputSchema:        ObjectSchema(map[string]any{}),
		RequiredPermission: rbac.PermHealthCheck,
		Category:           "core",
	}
}

func healthHandler(health func() map[string]any) Handler {
	return func(_ context.Context, _ map[string]any, _ Invocation) (any, error) {
		if health == nil {
			return map[string]any{"status": "ok"}, nil
		}
		return health(), nil
	}
}

func meshTools(m MeshAPI) []toolPair {
	return []toolPair{
		{
			tool: Tool{
				Name:        "llm_call",
				Description: "Calls one mesh endpoint through the guard pipeline.",
				InputSchema: ObjectSchema(map[string]any{
					"target":        map[string]any{"type": "string"},
					"prompt":        map[string]any{"type": "string"},
					"system_prompt": map[string]any{"type": "string"},
					"max_tokens":    map[string]any{"type": "integer"},
				}, "target", "prompt"),
				RequiredPermission: rbac.PermLLMCall,
				Category:           "mesh",
			},
			handler: func(ctx context.Context, params map[string]any, inv Invocation) (any, error) {
				return m.Call(ctx, mesh.CallInput{
					Target:       stringParam(params, "target"),
					Prompt:       stringParam(params, "prompt"),
					SystemPrompt: stringParam(params, "system_prompt"),
					MaxTokens:    intParam(params, "max_tokens"),
					Caller:       inv.Caller,
					TraceID:      inv.TraceID,
				}), nil
			},
		},
		{
			tool: Tool{
				Name:        "llm_broadcast",
				Description: "Sends one prompt to several endpoints in parallel.",
				InputSchema: ObjectSchema(map[string]any{
					"targets": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"prompt":  map[string]any{"type": "string"},
				}, "targets", "prompt"),
				RequiredPermission: rbac.PermLLMBroadcast,
				Category:           "mesh",
			},
			handler: func(ctx context.Context, params map[string]any, inv Invocation) (any, error) {
				return m.Broadcast(ctx, mesh.BroadcastInput{
					Targets: stringSliceParam(params, "targets"),
					Prompt:  stringParam(params, "prompt"),
					Caller:  inv.Caller,
					TraceID: inv.TraceID,
				}), nil
			},
		},
		{
			tool: Tool{
				Name:        "llm_consensus",
				Description: "Broadcasts a question and has the lead endpoint analyze agreement.",
				InputSchema: ObjectSchema(map[string]any{
					"targets": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"prompt":  map[string]any{"type": "string"},
					"weights": map[string]any{"type": "object"},
				}, "targets", "prompt"),
				RequiredPermission: rbac.PermLLMConsensus,
				Category:           "mesh",
			},
			handler: func(ctx context.Context, params map[string]any, inv Invocation) (any, error) {
				return m.Consensus(ctx, mesh.BroadcastInput{
					Targets: stringSliceParam(params, "targets"),
					Prompt:  stringParam(params, "prompt"),
					Weights: floatMapParam(params, "weights"),
					Caller:  inv.Caller,
					TraceID: inv.TraceID,
				}), nil
			},
		},
		{
			tool: Tool{
				Name:        "llm_delegate",
				Description: "Routes a task to the best-suited endpoint by capability.",
				InputSchema: ObjectSchema(map[string]any{
					"task_type":     map[string]any{"type": "string"},
					"prompt":        map[string]any{"type": "string"},
					"target":        map[string]any{"type": "string"},
					"context_files": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				}, "task_type", "prompt"),
				RequiredPermission: rbac.PermLLMDelegate,
				Category:           "mesh",
			},
			handler: func(ctx context.Context, params map[string]any, inv Invocation) (any, error) {
				return m.Delegate(ctx, mesh.DelegateInput{
					Target:       stringParam(params, "target"),
					TaskType:     stringParam(params, "task_type"),
					Prompt:       stringParam(params, "prompt"),
					Caller:       inv.Caller,
					TraceID:      inv.TraceID,
					ContextFiles: stringSliceParam(params, "context_files"),
				}), nil
			},
		},
	}
}

func memoryTools(store *memory.Store) []toolPair {
	return []toolPair{
		{
			tool: Tool{
				Name:        "memory_store",
				Description: "Stores a fact, decision, or other entry in shared memory.",
				InputSchema: ObjectSchema(map[string]any{
					"content":     map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"confidence":  map[string]any{"type": "number"},
					"ttl_seconds": map[string]any{"type": "number"},
					"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"project_id":  map[string]any{"type": "string"},
					"keywords":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"importance":  map[string]any{"type": "number"},
				}, "content"),
				RequiredPermission: rbac.PermMemoryWrite,
				Category:           "memory",
			},
			handler: func(_ context.Context, params map[string]any, inv Invocation) (any, error) {
				return store.Store(memory.StoreInput{
					Content:        stringParam(params, "content"),
					Type:           memory.EntryType(stringParam(params, "type")),
					Confidence:     floatParam(params, "confidence"),
					TTL:            time.Duration(floatParam(params, "ttl_seconds") * float64(time.Second)),
					Tags:           stringSliceParam(params, "tags"),
					ProjectID:      stringParam(params, "project_id"),
					Keywords:       stringSliceParam(params, "keywords"),
					Importance:     floatParam(params, "importance"),
					SourceEndpoint: inv.Caller,
				})
			},
		},
		{
			tool: Tool{
				Name:        "memory_recall",
				Description: "Searches shared memory by text, type, project, tags, and confidence.",
				InputSchema: ObjectSchema(map[string]any{
					"query":           map[string]any{"type": "string"},
					"type":            map[string]any{"type": "string"},
					"project_id":      map[string]any{"type": "string"},
					"min_confidence":  map[string]any{"type": "number"},
					"max_age_seconds": map[string]any{"type": "number"},
					"tags":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"include_expired": map[string]any{"type": "boolean"},
					"limit":           map[string]any{"type": "integer"},
				}),
				RequiredPermission: rbac.PermMemoryRead,
				Category:           "memory",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				return store.Recall(memory.Query{
					Text:           stringParam(params, "query"),
					Type:           memory.EntryType(stringParam(params, "type")),
					ProjectID:      stringParam(params, "project_id"),
					MinConfidence:  floatParam(params, "min_confidence"),
					MaxAge:         time.Duration(floatParam(params, "max_age_seconds") * float64(time.Second)),
					Tags:           stringSliceParam(params, "tags"),
					IncludeExpired: boolParam(params, "include_expired"),
					Limit:          intParam(params, "limit"),
				}), nil
			},
		},
		{
			tool: Tool{
				Name:        "memory_validate",
				Description: "Records the caller's validation on a memory entry, raising confidence.",
				InputSchema: ObjectSchema(map[string]any{
					"id": map[string]any{"type": "string"},
				}, "id"),
				RequiredPermission: rbac.PermMemoryValidate,
				Category:           "memory",
			},
			handler: func(_ context.Context, params map[string]any, inv Invocation) (any, error) {
				return store.Validate(stringParam(params, "id"), inv.Caller)
			},
		},
		{
			tool: Tool{
				Name:        "memory_invalidate",
				Description: "Marks a memory entry as invalidated by the caller, lowering confidence.",
				InputSchema: ObjectSchema(map[string]any{
					"id": map[string]any{"type": "string"},
				}, "id"),
				RequiredPermission: rbac.PermMemoryValidate,
				Category:           "memory",
			},
			handler: func(_ context.Context, params map[string]any, inv Invocation) (any, error) {
				return store.Invalidate(stringParam(params, "id"), inv.Caller)
			},
		},
	}
}

func chainTools(engine ChainAPI) []toolPair {
	return []toolPair{
		{
			tool: Tool{
				Name:        "chain_start",
				Description: "Starts a multi-cycle work chain and returns it immediately.",
				InputSchema: ObjectSchema(map[string]any{
					"prompt":     map[string]any{"type": "string"},
					"project_id": map[string]any{"type": "string"},
					"max_cycles": map[string]any{"type": "integer"},
					"profile":    map[string]any{"type": "string"},
				}, "prompt"),
				RequiredPermission: rbac.PermChainStart,
				Category:           "chain",
			},
			handler: func(_ context.Context, params map[string]any, inv Invocation) (any, error) {
				return engine.StartChain(chain.StartInput{
					UserPrompt:        stringParam(params, "prompt"),
					ProjectID:         stringParam(params, "project_id"),
					MaxCycles:         intParam(params, "max_cycles"),
					AutopromptProfile: stringParam(params, "profile"),
					TraceID:           inv.TraceID,
				})
			},
		},
		{
			tool: Tool{
				Name:        "chain_status",
				Description: "Returns the current state of one chain.",
				InputSchema: ObjectSchema(map[string]any{
					"chain_id": map[string]any{"type": "string"},
				}, "chain_id"),
				RequiredPermission: rbac.PermHealthCheck,
				Category:           "chain",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				return engine.Status(stringParam(params, "chain_id"))
			},
		},
		{
			tool: Tool{
				Name:        "chain_cancel",
				Description: "Cancels a chain; the in-flight cycle completes first.",
				InputSchema: ObjectSchema(map[string]any{
					"chain_id": map[string]any{"type": "string"},
				}, "chain_id"),
				RequiredPermission: rbac.PermChainManage,
				Category:           "chain",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				id := stringParam(params, "chain_id")
				if err := engine.Cancel(id); err != nil {
					return nil, err
				}
				return map[string]any{"chain_id": id, "cancelled": true}, nil
			},
		},
		{
			tool: Tool{
				Name:               "chain_list",
				Description:        "Lists all known chains in start order.",
				InputSchema:        ObjectSchema(map[string]any{}),
				RequiredPermission: rbac.PermHealthCheck,
				Category:           "chain",
			},
			handler: func(_ context.Context, _ map[string]any, _ Invocation) (any, error) {
				return engine.List(), nil
			},
		},
		{
			tool: Tool{
				Name:        "chain_logs",
				Description: "Returns the executed cycles of one chain.",
				InputSchema: ObjectSchema(map[string]any{
					"chain_id": map[string]any{"type": "string"},
				}, "chain_id"),
				RequiredPermission: rbac.PermHealthCheck,
				Category:           "chain",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				return engine.Logs(stringParam(params, "chain_id"))
			},
		},
	}
}

func queueTools(q *queue.Queue) []toolPair {
	return []toolPair{
		{
			tool: Tool{
				Name:        "queue_submit",
				Description: "Enqueues a command for asynchronous execution.",
				InputSchema: ObjectSchema(map[string]any{
					"payload":     map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "string"},
					"target":      map[string]any{"type": "string"},
					"max_retries": map[string]any{"type": "integer"},
				}, "payload", "type"),
				RequiredPermission: rbac.PermQueueSubmit,
				Category:           "queue",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				return q.Enqueue(queue.EnqueueInput{
					Payload:    stringParam(params, "payload"),
					Type:       stringParam(params, "type"),
					Priority:   queue.ParsePriority(stringParam(params, "priority")),
					Target:     stringParam(params, "target"),
					MaxRetries: intParam(params, "max_retries"),
				})
			},
		},
		{
			tool: Tool{
				Name:        "queue_status",
				Description: "Reports queue depth, registered agents, and optionally one command.",
				InputSchema: ObjectSchema(map[string]any{
					"command_id": map[string]any{"type": "string"},
				}),
				RequiredPermission: rbac.PermHealthCheck,
				Category:           "queue",
			},
			handler: func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
				if id := stringParam(params, "command_id"); id != "" {
					cmd, ok := q.Get(id)
					if !ok {
						return nil, fmt.Errorf("unknown command: %s", id)
					}
					return cmd, nil
				}
				return map[string]any{
					"depth":  q.Depth(),
					"agents": q.Agents(),
				}, nil
			},
		},
	}
}

func auditQueryTool() Tool {
	return Tool{
		Name:        "audit_query",
		Description: "Queries recent audit entries by trace, caller, or level filters.",
		InputSchema: ObjectSchema(map[string]any{
			"trace_id":      map[string]any{"type": "string"},
			"caller_id":     map[string]any{"type": "string"},
			"security_only": map[string]any{"type": "boolean"},
			"errors_only":   map[string]any{"type": "boolean"},
			"limit":         map[string]any{"type": "integer"},
		}),
		RequiredPermission: rbac.PermAuditRead,
		Category:           "audit",
	}
}

func auditQueryHandler(log *audit.Log) Handler {
	return func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
		limit := intParam(params, "limit")
		if limit <= 0 {
			limit = 50
		}
		switch {
		case stringParam(params, "trace_id") != "":
			return log.ByTrace(stringParam(params, "trace_id")), nil
		case stringParam(params, "caller_id") != "":
			return log.ByCaller(stringParam(params, "caller_id")), nil
		case boolParam(params, "security_only"):
			return log.SecurityEvents(limit), nil
		case boolParam(params, "errors_only"):
			return log.Errors(limit), nil
		default:
			return log.Recent(limit), nil
		}
	}
}

func endpointListTool() Tool {
	return Tool{
		Name:               "endpoint_list",
		Description:        "Lists configured mesh endpoints and their capabilities.",
		InputSchema:        ObjectSchema(map[string]any{}),
		RequiredPermission: rbac.PermConfigRead,
		Category:           "admin",
	}
}

func endpointListHandler(endpoints *config.EndpointRegistry) Handler {
	return func(_ context.Context, _ map[string]any, _ Invocation) (any, error) {
		out := make([]map[string]any, 0, endpoints.Len())
		for _, name := range endpoints.Names() {
			ep, err := endpoints.Get(name)
			if err != nil {
				continue
			}
			out = append(out, map[string]any{
				"name":         name,
				"type":         ep.Type,
				"model":        ep.Model,
				"capabilities": ep.Capabilities,
				"disabled":     ep.Disabled,
			})
		}
		return out, nil
	}
}

func toolRegisterTool() Tool {
	return Tool{
		Name:        "tool_register",
		Description: "Registers an alias name for an existing tool.",
		InputSchema: ObjectSchema(map[string]any{
			"alias":       map[string]any{"type": "string"},
			"existing":    map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		}, "alias", "existing"),
		RequiredPermission: rbac.PermToolRegister,
		Category:           "admin",
	}
}

// toolRegisterHandler adds alias names at runtime. Handlers cannot cross
// the wire, so runtime registration is limited to aliasing what the
// process already has; native registration stays a code-level call.
func toolRegisterHandler(r *Registry) Handler {
	return func(_ context.Context, params map[string]any, _ Invocation) (any, error) {
		alias := stringParam(params, "alias")
		existing := stringParam(params, "existing")
		if err := r.RegisterAlias(alias, existing, stringParam(params, "description")); err != nil {
			return nil, err
		}
		return map[string]any{"registered": alias, "for": existing}, nil
	}
}

// Param extraction helpers. JSON decoding yields float64 for numbers and
// []any for arrays; callers may also pass native Go values.

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params map[string]any, key string) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return false
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func stringSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatMapParam(params map[string]any, key string) map[string]float64 {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
