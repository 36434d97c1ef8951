package config

import (
	"path/filepath"
	"time"
)

// DefaultDataDir is where persistent state lands when system.data_dir is
// not configured.
const DefaultDataDir = "./data"

// DefaultServerConfig returns the built-in HTTP server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8420,
	}
}

// DefaultAuditConfig returns the built-in audit log defaults.
func DefaultAuditConfig(dataDir string) *AuditConfig {
	return &AuditConfig{
		Dir:            filepath.Join(dataDir, "audit"),
		RingSize:       1000,
		FlushThreshold: 100,
	}
}

// DefaultMemoryConfig returns the built-in memory store defaults.
func DefaultMemoryConfig(dataDir string) *MemoryConfig {
	return &MemoryConfig{
		Dir:           filepath.Join(dataDir, "memory"),
		MaxEntries:    10000,
		SweepInterval: 5 * time.Minute,
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig(dataDir string) *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		MaxQueueSize:            1000,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		CommandTimeout:          10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		SnapshotPath:            filepath.Join(dataDir, "queue_state.json"),
	}
}

// DefaultChainConfig returns the built-in work chain defaults.
func DefaultChainConfig(dataDir string) *ChainConfig {
	return &ChainConfig{
		Lead:          "claude",
		MaxCycles:     10,
		MaxParallel:   4,
		WorkspaceRoot: filepath.Join(dataDir, "chains"),
		TaskTimeout:   10 * time.Minute,
	}
}

// DefaultMeshConfig returns the built-in mesh defaults.
func DefaultMeshConfig() *MeshConfig {
	return &MeshConfig{
		MaxTraceDepth:    10,
		DefaultRateLimit: 60,
		CallTimeout:      120 * time.Second,
		Circuit: &CircuitConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenMaxCalls: 3,
		},
	}
}
