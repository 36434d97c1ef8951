// Package queue is the prioritized command queue: a capability-routed
// min-heap of commands drained by a worker pool, with an atomically
// replaced JSON snapshot for crash recovery.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders commands for dequeue. Lower value wins.
type Priority int

// Command priorities, most to least urgent.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
)

var priorityNames = map[Priority]string{
	PriorityCritical: "CRITICAL",
	PriorityHigh:     "HIGH",
	PriorityNormal:   "NORMAL",
	PriorityLow:      "LOW",
	PriorityIdle:     "IDLE",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "NORMAL"
}

// ParsePriority maps a priority name to its value, defaulting to NORMAL.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityNormal
}

// IsValid returns true if the priority is a known value.
func (p Priority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

// Status is the lifecycle state of a command.
type Status string

// Command statuses. QUEUED and RUNNING are live; the rest are terminal,
// except that FAILED commands with retries left re-enter QUEUED.
const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// DefaultMaxRetries applies when an enqueue does not set its own.
const DefaultMaxRetries = 3

// Command is one unit of queued work.
type Command struct {
	ID            string    `json:"id"`
	Priority      Priority  `json:"priority"`
	EnqueueTime   time.Time `json:"enqueue_time"`
	Type          string    `json:"type"`
	Payload       string    `json:"payload"`
	Target        string    `json:"target,omitempty"`
	Status        Status    `json:"status"`
	AssignedAgent string    `json:"assigned_agent,omitempty"`
	Retries       int       `json:"retries"`
	MaxRetries    int       `json:"max_retries"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the command can no longer change state.
func (c *Command) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed || c.Status == StatusCancelled
}

// Agent is one registered work sink, keyed by the same short alias the
// mesh uses for its endpoint.
type Agent struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	Available         bool      `json:"available"`
	CurrentCommandID  string    `json:"current_command_id,omitempty"`
	CompletedCount    int       `json:"completed_count"`
	FailedCount       int       `json:"failed_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	Capabilities      []string  `json:"capabilities"`
	LastActive        time.Time `json:"last_active"`
}

// typeCapabilities routes command types to the agent-name tags that may
// serve them. "*" matches every agent.
var typeCapabilities = map[string][]string{
	"research":   {"gemini", "kimi", "nova", "claude"},
	"code":       {"deepseek", "qwen-coder", "claude", "codex"},
	"review":     {"claude", "mistral", "cogito", "codex"},
	"search":     {"gemini", "kimi", "nova"},
	"chat":       {"*"},
	"coordinate": {"gemini"},
}

// CapabilitiesForType returns the capability tags a command type requires.
// Unknown types match any agent.
func CapabilitiesForType(commandType string) []string {
	if caps, ok := typeCapabilities[commandType]; ok {
		return caps
	}
	return []string{"*"}
}

// agentMatchesType reports whether the agent's capability set intersects
// the type's required tags.
func agentMatchesType(agent *Agent, commandType string) bool {
	required := CapabilitiesForType(commandType)
	for _, tag := range required {
		if tag == "*" {
			return true
		}
		for _, have := range agent.Capabilities {
			if have == tag {
				return true
			}
		}
	}
	return false
}

func newCommandID() string {
	return uuid.NewString()
}
