// Package chain drives multi-cycle work chains: each cycle asks the lead
// endpoint for a plan, dispatches the planned tasks across the mesh, and
// consolidates the results, looping until a terminal marker or the cycle
// cap.
package chain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a chain.
type Status string

// Chain statuses. PAUSED chains resume from the next cycle; the last
// three are terminal.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NextAction is the consolidator's verdict for one cycle.
type NextAction string

// Cycle outcomes.
const (
	ActionContinue NextAction = "continue"
	ActionDone     NextAction = "done"
	ActionError    NextAction = "error"
)

// Terminal markers scanned for in lead responses and consolidations.
const (
	MarkerDone     = "[CHAIN_DONE]"
	MarkerContinue = "[CHAIN_CONTINUE]"
	MarkerError    = "[CHAIN_ERROR]"
)

// Task is one planned unit of work within a cycle.
type Task struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Prompt    string   `json:"prompt"`
	Target    string   `json:"target,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// TaskResult is the outcome of one dispatched task.
type TaskResult struct {
	Endpoint string `json:"endpoint"`
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Cycle is one plan → dispatch → consolidate pass.
type Cycle struct {
	CycleNumber     int                   `json:"cycle_number"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     time.Time             `json:"completed_at,omitempty"`
	LeadAnalysis    string                `json:"lead_analysis,omitempty"`
	AgentPlan       *Plan                 `json:"agent_plan,omitempty"`
	AgentTasks      []Task                `json:"agent_tasks,omitempty"`
	AgentResults    map[string]TaskResult `json:"agent_results,omitempty"`
	Consolidation   string                `json:"consolidation,omitempty"`
	NextAction      NextAction            `json:"next_action"`
	Errors          []string              `json:"errors,omitempty"`
	ExecutionTimeMs int64                 `json:"execution_time_ms"`
	TokensUsed      int                   `json:"tokens_used"`
}

// Chain is one user-initiated workflow spanning up to MaxCycles cycles.
type Chain struct {
	ChainID           string    `json:"chain_id"`
	ProjectID         string    `json:"project_id"`
	UserPrompt        string    `json:"user_prompt"`
	Status            Status    `json:"status"`
	MaxCycles         int       `json:"max_cycles"`
	CurrentCycle      int       `json:"current_cycle"`
	Cycles            []*Cycle  `json:"cycles"`
	AutopromptProfile string    `json:"autoprompt_profile,omitempty"`
	TraceID           string    `json:"trace_id"`
	Workspace         string    `json:"workspace,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
	FinalOutput       string    `json:"final_output,omitempty"`
	TotalTokens       int       `json:"total_tokens"`
	Error             string    `json:"error,omitempty"`
}

// estimateTokens approximates token usage as one token per four
// characters, accumulated per message.
func estimateTokens(text string) int {
	return len(text) / 4
}

func newChainID() string {
	return uuid.NewString()
}

func newProjectID() string {
	return "proj_" + uuid.NewString()[:8]
}
