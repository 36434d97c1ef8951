package mesh

import (
	"context"
	"fmt"
	"strings"

	"github.com/polyhub/polyhub/pkg/circuit"
	"github.com/polyhub/polyhub/pkg/config"
)

// DelegateInput routes a task to an explicit endpoint, or to whichever
// endpoint best matches its type when Target is empty or "auto".
type DelegateInput struct {
	// Target pins the endpoint. Empty or "auto" selects by capability.
	Target string
	// TaskType is a capability tag (code, research, review, ...). Unknown
	// tags route as general work.
	TaskType     string
	Prompt       string
	Caller       string
	TraceID      string
	SystemPrompt string
	// ContextFiles are file paths the receiving endpoint should consider.
	// They are listed in the wrapped prompt, not read by the hub.
	ContextFiles []string
}

// DelegateResult is the call outcome plus the routing decision that
// produced it.
type DelegateResult struct {
	*CallResult
	TaskType  string `json:"task_type"`
	RoutedTo  string `json:"routed_to"`
	Delegated bool   `json:"delegated"`
}

// BestForTask picks the endpoint for a task type: the first enabled
// endpoint advertising the matching capability whose circuit is not open,
// in registry name order. Unknown task types match the general
// capability; when nothing matches, the lead endpoint takes the work.
func (m *Mesh) BestForTask(taskType string) string {
	cap := config.Capability(taskType)
	if !cap.IsValid() {
		cap = config.CapabilityGeneral
	}

	for _, name := range m.endpoints.ByCapability(cap) {
		ep, err := m.endpoints.Get(name)
		if err != nil || ep.Disabled {
			continue
		}
		if m.circuits.State(name) == circuit.StateOpen {
			continue
		}
		return name
	}
	return m.lead
}

// Delegate wraps the prompt with the task framing, routes it to the
// resolved endpoint, and calls it through the full guard pipeline.
func (m *Mesh) Delegate(ctx context.Context, in DelegateInput) *DelegateResult {
	target := in.Target
	if target == "" || target == "auto" {
		target = m.BestForTask(in.TaskType)
	}
	res := m.Call(ctx, CallInput{
		Target:       target,
		Prompt:       delegationPrompt(in.TaskType, in.Prompt, in.ContextFiles),
		Caller:       in.Caller,
		TraceID:      in.TraceID,
		SystemPrompt: in.SystemPrompt,
	})
	return &DelegateResult{CallResult: res, TaskType: in.TaskType, RoutedTo: target, Delegated: true}
}

// delegationPrompt frames a delegated task for the receiving endpoint:
// the task type up front, then the work, then the context files it
// should consult.
func delegationPrompt(taskType, prompt string, contextFiles []string) string {
	if taskType == "" {
		taskType = string(config.CapabilityGeneral)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have been delegated a %s task.\n\nTask:\n%s\n", taskType, prompt)
	if len(contextFiles) > 0 {
		sb.WriteString("\nContext files:\n")
		for _, f := range contextFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	return sb.String()
}
