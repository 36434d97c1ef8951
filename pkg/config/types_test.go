package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerConfigAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"ipv4", ServerConfig{Host: "0.0.0.0", Port: 8420}, "0.0.0.0:8420"},
		{"loopback", ServerConfig{Host: "127.0.0.1", Port: 9000}, "127.0.0.1:9000"},
		{"ipv6 gets brackets", ServerConfig{Host: "::1", Port: 8420}, "[::1]:8420"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Addr())
		})
	}
}

func TestDefaultsDeriveFromDataDir(t *testing.T) {
	dataDir := "/var/lib/polyhub"

	assert.Equal(t, filepath.Join(dataDir, "audit"), DefaultAuditConfig(dataDir).Dir)
	assert.Equal(t, filepath.Join(dataDir, "memory"), DefaultMemoryConfig(dataDir).Dir)
	assert.Equal(t, filepath.Join(dataDir, "queue_state.json"), DefaultQueueConfig(dataDir).SnapshotPath)
	assert.Equal(t, filepath.Join(dataDir, "chains"), DefaultChainConfig(dataDir).WorkspaceRoot)
}

func TestDefaultConfigsAreSane(t *testing.T) {
	q := DefaultQueueConfig(DefaultDataDir)
	assert.Greater(t, q.WorkerCount, 0)
	assert.Greater(t, q.PollInterval, time.Duration(0))
	assert.Greater(t, q.CommandTimeout, q.PollInterval)

	m := DefaultMeshConfig()
	assert.Greater(t, m.MaxTraceDepth, 0)
	assert.NotNil(t, m.Circuit)
	assert.Greater(t, m.Circuit.FailureThreshold, 0)

	c := DefaultChainConfig(DefaultDataDir)
	assert.Greater(t, c.MaxCycles, 0)
	assert.Greater(t, c.MaxParallel, 0)
}
