package config

import (
	"net"
	"strconv"
	"time"
)

// HubYAMLConfig represents the complete polyhub.yaml file structure
type HubYAMLConfig struct {
	System   *SystemYAMLConfig        `yaml:"system"`
	Audit    *AuditConfig             `yaml:"audit"`
	Memory   *MemoryConfig            `yaml:"memory"`
	Queue    *QueueConfig             `yaml:"queue"`
	Chains   *ChainConfig             `yaml:"chains"`
	Mesh     *MeshConfig              `yaml:"mesh"`
	Roles    map[string]string        `yaml:"roles"`
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

// SystemYAMLConfig groups system-wide settings from polyhub.yaml.
type SystemYAMLConfig struct {
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	DataDir          string   `yaml:"data_dir,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// EndpointsYAMLConfig represents the endpoints.yaml file structure
type EndpointsYAMLConfig struct {
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

// ServerConfig holds the resolved HTTP server settings.
type ServerConfig struct {
	Host             string
	Port             int
	AllowedWSOrigins []string
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuditConfig controls the audit log.
type AuditConfig struct {
	// Dir is where daily JSONL files are written. Defaults to
	// <data_dir>/audit.
	Dir string `yaml:"dir,omitempty"`

	// RingSize is the in-memory ring buffer capacity.
	RingSize int `yaml:"ring_size,omitempty"`

	// FlushThreshold is how many entries accumulate before a disk flush.
	FlushThreshold int `yaml:"flush_threshold,omitempty"`
}

// MemoryConfig controls the shared memory store.
type MemoryConfig struct {
	// Dir is where per-project JSONL files are written. Defaults to
	// <data_dir>/memory.
	Dir string `yaml:"dir,omitempty"`

	// MaxEntries bounds the in-memory entry count.
	MaxEntries int `yaml:"max_entries,omitempty"`

	// SweepInterval is how often expired entries are dropped.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// QueueConfig contains command queue and worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines draining the queue.
	WorkerCount int `yaml:"worker_count,omitempty"`

	// MaxQueueSize caps live (queued plus running) commands.
	MaxQueueSize int `yaml:"max_queue_size,omitempty"`

	// PollInterval is the base interval for checking queued commands.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter,omitempty"`

	// CommandTimeout is the maximum time a single command may execute.
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// commands during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout,omitempty"`

	// SnapshotPath is where the queue state file lives. Defaults to
	// <data_dir>/queue_state.json.
	SnapshotPath string `yaml:"snapshot_path,omitempty"`
}

// ChainConfig holds defaults for work chains.
type ChainConfig struct {
	// Lead names the endpoint used for planning and consolidation.
	Lead string `yaml:"lead,omitempty"`

	// MaxCycles bounds plan/dispatch/consolidate rounds per chain.
	MaxCycles int `yaml:"max_cycles,omitempty"`

	// MaxParallel bounds concurrent task dispatch within a cycle.
	MaxParallel int `yaml:"max_parallel,omitempty"`

	// WorkspaceRoot is where per-chain workspace directories are
	// created. Defaults to <data_dir>/chains.
	WorkspaceRoot string `yaml:"workspace_root,omitempty"`

	// TaskTimeout is the maximum time a single dispatched task may run.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty"`
}

// MeshConfig tunes inter-endpoint call handling.
type MeshConfig struct {
	// MaxTraceDepth bounds the call chain length before a call is
	// refused as a runaway.
	MaxTraceDepth int `yaml:"max_trace_depth,omitempty"`

	// DefaultRateLimit is the per-endpoint requests-per-minute cap for
	// endpoints that do not set their own.
	DefaultRateLimit int `yaml:"default_rate_limit,omitempty"`

	// CallTimeout is the default upstream call timeout.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`

	// Circuit tunes the per-endpoint circuit breakers.
	Circuit *CircuitConfig `yaml:"circuit,omitempty"`
}

// CircuitConfig tunes circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is how many consecutive-weighted failures open
	// the breaker.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// RecoveryTimeout is how long an open breaker waits before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout,omitempty"`

	// HalfOpenMaxCalls is how many probe calls the half-open state
	// admits.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls,omitempty"`
}

// ProfileConfig defines an autoprompt profile: a named system prompt
// overlay applied to outbound calls that request it.
type ProfileConfig struct {
	// Description says what the profile is for.
	Description string `yaml:"description,omitempty"`

	// SystemPrompt is prepended to the outbound system prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature overrides the endpoint default when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens overrides the endpoint default when set.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}
