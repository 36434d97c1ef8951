package queue

import (
	"context"
	"fmt"

	"github.com/polyhub/polyhub/pkg/mesh"
)

// CommandExecutor runs one claimed command against its assigned agent.
// Implementations own the upstream semantics; the worker only handles
// claiming, timeout, and terminal bookkeeping.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd *Command) (string, error)
}

// ExecutorFunc adapts a function to the CommandExecutor interface.
type ExecutorFunc func(ctx context.Context, cmd *Command) (string, error)

// Execute implements CommandExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, cmd *Command) (string, error) {
	return f(ctx, cmd)
}

// meshCaller is the mesh surface the executor needs.
type meshCaller interface {
	Delegate(ctx context.Context, in mesh.DelegateInput) *mesh.DelegateResult
}

// MeshExecutor executes commands as guarded mesh delegations: the
// command's assigned agent becomes the target endpoint, its type the
// capability tag.
type MeshExecutor struct {
	mesh   meshCaller
	caller string
}

// NewMeshExecutor creates the mesh-backed executor. caller is the
// identity the queue's calls are charged to.
func NewMeshExecutor(m meshCaller, caller string) *MeshExecutor {
	return &MeshExecutor{mesh: m, caller: caller}
}

// Execute implements CommandExecutor.
func (e *MeshExecutor) Execute(ctx context.Context, cmd *Command) (string, error) {
	target := cmd.AssignedAgent
	if target == "" {
		target = "auto"
	}
	res := e.mesh.Delegate(ctx, mesh.DelegateInput{
		Target:   target,
		TaskType: cmd.Type,
		Prompt:   cmd.Payload,
		Caller:   e.caller,
	})
	if !res.Success {
		return "", fmt.Errorf("delegate %s to %s: %s", cmd.Type, res.RoutedTo, res.Error)
	}
	return res.Response, nil
}
