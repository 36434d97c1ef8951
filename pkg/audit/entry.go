// Package audit is the structured event spine every other component writes
// through: a bounded in-memory ring plus daily-rotated JSONL files, with
// live fan-out to subscribers.
package audit

import "time"

// Level classifies the severity of an audit entry.
type Level string

// Audit levels.
const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	LevelSecurity Level = "SECURITY"
)

// IsValid returns true if the level is a known value.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical, LevelSecurity:
		return true
	}
	return false
}

// Well-known actions. Callers may record free-form actions; these are the
// ones other components and tests depend on.
const (
	ActionLLMCall       = "llm_call"
	ActionToolCall      = "tool_call"
	ActionRBACDenied    = "security/rbac_denied"
	ActionCycleDetected = "security/cycle_detected"
	ActionChainStarted  = "chain_started"
	ActionChainFinished = "chain_finished"
)

// Entry is one immutable audit record.
type Entry struct {
	Timestamp       time.Time      `json:"timestamp"`
	TraceID         string         `json:"trace_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	CallerID        string         `json:"caller_id,omitempty"`
	Action          string         `json:"action"`
	Level           Level          `json:"level"`
	ToolName        string         `json:"tool_name,omitempty"`
	TargetEndpoint  string         `json:"target_endpoint,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	ResultStatus    string         `json:"result_status,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
