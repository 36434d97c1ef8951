package chain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PlanSource says which parsing path produced a plan.
type PlanSource string

// Plan parse outcomes. NoPlan is a concrete state with defined
// semantics, not a silent fallthrough: the lead response itself becomes
// the consolidation.
const (
	PlanFenced PlanSource = "fenced_block"
	PlanInline PlanSource = "inline_object"
	NoPlan     PlanSource = "none"
)

// Plan is the lead endpoint's task breakdown for one cycle.
type Plan struct {
	Analysis       string `json:"analysis,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	Tasks          []Task `json:"tasks"`
	ExpectedOutput string `json:"expected_output,omitempty"`

	Source PlanSource `json:"source,omitempty"`
}

// Regex patterns for plan extraction (compiled once).
var (
	fencedPlanPattern = regexp.MustCompile("(?s)```agent_plan\\s*\\n(.*?)```")
	// Any fenced JSON block, for leads that forget the agent_plan tag.
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\{.*?\\})\\s*```")
)

// ParsePlan extracts a task plan from a lead response. It tries the
// ```agent_plan fenced block first, then any JSON object carrying a
// "tasks" field. A nil return means NoPlan.
func ParsePlan(text string) *Plan {
	if m := fencedPlanPattern.FindStringSubmatch(text); m != nil {
		if plan := decodePlan(m[1]); plan != nil {
			plan.Source = PlanFenced
			return plan
		}
	}
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(text, -1) {
		if plan := decodePlan(m[1]); plan != nil {
			plan.Source = PlanInline
			return plan
		}
	}
	if obj := firstObjectWithTasks(text); obj != "" {
		if plan := decodePlan(obj); plan != nil {
			plan.Source = PlanInline
			return plan
		}
	}
	return nil
}

// decodePlan accepts JSON with a non-empty tasks array; tasks without
// ids get positional ones.
func decodePlan(raw string) *Plan {
	var plan Plan
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &plan); err != nil {
		return nil
	}
	if len(plan.Tasks) == 0 {
		return nil
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = defaultTaskID(i)
		}
		if plan.Tasks[i].Type == "" {
			plan.Tasks[i].Type = "chat"
		}
	}
	return &plan
}

func defaultTaskID(i int) string {
	return fmt.Sprintf("task_%d", i+1)
}

// firstObjectWithTasks scans for a balanced top-level JSON object that
// mentions "tasks", for leads that emit bare JSON with surrounding prose.
func firstObjectWithTasks(text string) string {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch c {
				case '\\':
					i++
				case '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if strings.Contains(candidate, `"tasks"`) {
						return candidate
					}
					start = i
					i = len(text)
				}
			}
		}
	}
	return ""
}

// ParseNextAction scans consolidation text for terminal markers. The
// first marker present wins in the order done, error, continue; absent
// markers default to continue.
func ParseNextAction(text string) NextAction {
	switch {
	case strings.Contains(text, MarkerDone):
		return ActionDone
	case strings.Contains(text, MarkerError):
		return ActionError
	case strings.Contains(text, MarkerContinue):
		return ActionContinue
	default:
		return ActionContinue
	}
}
