package chain

import (
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"

	"github.com/polyhub/polyhub/pkg/config"
)

// Autoprompt shapes how a chain talks to the lead endpoint. Layers merge
// in precedence order: global defaults, then the named profile, then the
// project overlay, then the per-start override.
type Autoprompt struct {
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	TaskPrefix   string `json:"task_prefix,omitempty" yaml:"task_prefix,omitempty"`
	TaskSuffix   string `json:"task_suffix,omitempty" yaml:"task_suffix,omitempty"`
	MaxParallel  int    `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	MaxCycles    int    `json:"max_cycles,omitempty" yaml:"max_cycles,omitempty"`
}

// defaultAutoprompt is the global base layer.
func defaultAutoprompt() Autoprompt {
	return Autoprompt{
		SystemPrompt: "You are the lead coordinator of a team of language models. " +
			"Break the work into tasks when delegation helps, otherwise answer " +
			"directly. End your reply with " + MarkerDone + " when the work is " +
			"finished, or " + MarkerContinue + " when another cycle is needed.",
		TaskPrefix: "=== TASK CONTEXT ===",
		TaskSuffix: "=== END CONTEXT ===",
	}
}

// resolveAutoprompt merges the four layers with later layers overriding
// earlier ones field by field.
func resolveAutoprompt(profile *config.ProfileConfig, project, override *Autoprompt) Autoprompt {
	merged := defaultAutoprompt()
	if profile != nil {
		layer := Autoprompt{SystemPrompt: profile.SystemPrompt}
		// Merge errors only occur for incompatible types; the layers share
		// one type.
		_ = mergo.Merge(&merged, layer, mergo.WithOverride)
	}
	if project != nil {
		_ = mergo.Merge(&merged, *project, mergo.WithOverride)
	}
	if override != nil {
		_ = mergo.Merge(&merged, *override, mergo.WithOverride)
	}
	return merged
}

// buildPlanningPrompt brackets the cycle context between the autoprompt's
// task markers and asks for an agent_plan block.
func buildPlanningPrompt(ap Autoprompt, cycleNumber int, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cycle %d.\n\n%s\n%s\n%s\n\n", cycleNumber, ap.TaskPrefix, context, ap.TaskSuffix)
	sb.WriteString("If the work needs delegation, reply with a ```agent_plan fenced block " +
		"containing JSON {\"analysis\", \"reasoning\", \"tasks\": [{\"id\", \"type\", " +
		"\"prompt\", \"target\", \"depends_on\"}], \"expected_output\"}. " +
		"Otherwise answer directly.")
	return sb.String()
}

// buildConsolidationPrompt packs the original context, the plan, and the
// full results map, merged in declared task order.
func buildConsolidationPrompt(ap Autoprompt, context string, plan *Plan, results map[string]TaskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n%s\n\n", ap.TaskPrefix, context, ap.TaskSuffix)

	if plan != nil {
		fmt.Fprintf(&sb, "Plan analysis: %s\n\n", plan.Analysis)
		sb.WriteString("Task results:\n")
		for _, task := range plan.Tasks {
			res, ok := results[task.ID]
			if !ok {
				continue
			}
			if res.Success {
				fmt.Fprintf(&sb, "\n--- %s (%s) ---\n%s\n", task.ID, res.Endpoint, res.Response)
			} else {
				fmt.Fprintf(&sb, "\n--- %s (%s) FAILED ---\n%s\n", task.ID, res.Endpoint, res.Error)
			}
		}
		// Results for task ids the plan does not declare append in id order.
		extras := make([]string, 0)
		for id := range results {
			if !planHasTask(plan, id) {
				extras = append(extras, id)
			}
		}
		sort.Strings(extras)
		for _, id := range extras {
			res := results[id]
			fmt.Fprintf(&sb, "\n--- %s (%s) ---\n%s\n", id, res.Endpoint, res.Response)
		}
	}

	sb.WriteString("\nConsolidate the results into a single answer. End with " +
		MarkerDone + " if the work is finished, " + MarkerContinue +
		" if another cycle is needed, or " + MarkerError + " if the work cannot proceed.")
	return sb.String()
}

func planHasTask(plan *Plan, id string) bool {
	for _, task := range plan.Tasks {
		if task.ID == id {
			return true
		}
	}
	return false
}

// buildDependentPrompt injects predecessor responses ahead of the task's
// own prompt, in declared depends_on order.
func buildDependentPrompt(task Task, results map[string]TaskResult) string {
	var sb strings.Builder
	sb.WriteString("Results from prerequisite tasks:\n")
	for _, dep := range task.DependsOn {
		if res, ok := results[dep]; ok && res.Success {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", dep, res.Response)
		}
	}
	fmt.Fprintf(&sb, "\n%s", task.Prompt)
	return sb.String()
}
