// Package tools is the process-wide tool dispatcher: a single registry
// mapping tool names to handlers, with RBAC, schema validation, audit,
// and panic containment applied uniformly to every invocation.
package tools

import (
	"context"

	"github.com/polyhub/polyhub/pkg/rbac"
)

// Invocation carries the per-call context a handler receives alongside
// its params.
type Invocation struct {
	Caller  string
	TraceID string
}

// Handler executes one tool call. Params arrive exactly as the client
// sent them; validation against the tool's schema has already happened.
type Handler func(ctx context.Context, params map[string]any, inv Invocation) (any, error)

// Tool describes one registered tool. Names are unique process-wide.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// InputSchema is a JSON Schema object (type=object with properties
	// and required), returned verbatim by tools/list.
	InputSchema map[string]any `json:"inputSchema"`
	// RequiredPermission is checked against the caller before dispatch.
	RequiredPermission rbac.Permission `json:"-"`
	Category           string          `json:"-"`
}

// Outcome is the uniform wrapper around every dispatched call.
type Outcome struct {
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`

	// Refused marks pipeline denials (unknown tool, RBAC, invalid
	// params) as opposed to errors from the handler itself.
	Refused bool `json:"-"`
}
