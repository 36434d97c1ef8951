package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(Config{SnapshotPath: filepath.Join(t.TempDir(), "queue_state.json")})
	require.NoError(t, err)
	return q
}

func TestDequeueOrdersByPriorityThenTime(t *testing.T) {
	q := newTestQueue(t)

	clock := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	low, err := q.Enqueue(EnqueueInput{Payload: "low", Type: "chat", Priority: PriorityLow})
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	normal, err := q.Enqueue(EnqueueInput{Payload: "normal", Type: "chat", Priority: PriorityNormal})
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	critical, err := q.Enqueue(EnqueueInput{Payload: "critical", Type: "chat", Priority: PriorityCritical})
	require.NoError(t, err)

	for _, want := range []string{critical.ID, normal.ID, low.ID} {
		got, err := q.Dequeue("")
		require.NoError(t, err)
		assert.Equal(t, want, got.ID)
		assert.Equal(t, StatusRunning, got.Status)
	}

	_, err = q.Dequeue("")
	assert.ErrorIs(t, err, ErrNoCommandsAvailable)
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t)

	clock := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	first, err := q.Enqueue(EnqueueInput{Payload: "first", Type: "chat"})
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	second, err := q.Enqueue(EnqueueInput{Payload: "second", Type: "chat"})
	require.NoError(t, err)

	got, err := q.Dequeue("")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	got, err = q.Dequeue("")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	q := newTestQueue(t)

	critical, err := q.Enqueue(EnqueueInput{Payload: "x", Type: "chat", Priority: PriorityCritical, MaxRetries: 2})
	require.NoError(t, err)

	// First failure re-queues with one retry burned.
	got, err := q.Dequeue("")
	require.NoError(t, err)
	require.Equal(t, critical.ID, got.ID)
	cmd, err := q.Complete(critical.ID, "boom", false)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, cmd.Status)
	assert.Equal(t, 1, cmd.Retries)

	// Second failure exhausts max_retries=2: terminal FAILED.
	_, err = q.Dequeue("")
	require.NoError(t, err)
	cmd, err = q.Complete(critical.ID, "boom again", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status)
	assert.Equal(t, 2, cmd.Retries)
	assert.Equal(t, "boom again", cmd.Error)

	// The failed command is gone from the queue; new work flows normally.
	normal, err := q.Enqueue(EnqueueInput{Payload: "y", Type: "chat", Priority: PriorityNormal})
	require.NoError(t, err)
	got, err = q.Dequeue("")
	require.NoError(t, err)
	assert.Equal(t, normal.ID, got.ID)
}

func TestCompleteSuccessUpdatesAgent(t *testing.T) {
	q := newTestQueue(t)
	q.RegisterAgent(Agent{ID: "gemini", Name: "gemini", Capabilities: []string{"gemini"}})

	cmd, err := q.Enqueue(EnqueueInput{Payload: "dig", Type: "research"})
	require.NoError(t, err)

	got, err := q.Dequeue("gemini")
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, got.ID)
	assert.Equal(t, "gemini", got.AssignedAgent)

	agents := q.Agents()
	require.Len(t, agents, 1)
	assert.False(t, agents[0].Available)
	assert.Equal(t, cmd.ID, agents[0].CurrentCommandID)

	done, err := q.Complete(cmd.ID, "findings", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "findings", done.Result)

	agents = q.Agents()
	assert.True(t, agents[0].Available)
	assert.Empty(t, agents[0].CurrentCommandID)
	assert.Equal(t, 1, agents[0].CompletedCount)
}

func TestDequeueMatchesCapabilities(t *testing.T) {
	q := newTestQueue(t)
	q.RegisterAgent(Agent{ID: "deepseek", Capabilities: []string{"deepseek"}})

	// review commands route to {claude, mistral, cogito, codex}; deepseek
	// does not qualify.
	_, err := q.Enqueue(EnqueueInput{Payload: "check this", Type: "review"})
	require.NoError(t, err)
	_, err = q.Dequeue("deepseek")
	assert.ErrorIs(t, err, ErrNoCommandsAvailable)

	// code commands do include deepseek.
	code, err := q.Enqueue(EnqueueInput{Payload: "write this", Type: "code"})
	require.NoError(t, err)
	got, err := q.Dequeue("deepseek")
	require.NoError(t, err)
	assert.Equal(t, code.ID, got.ID)
}

func TestDequeueHonorsTarget(t *testing.T) {
	q := newTestQueue(t)
	q.RegisterAgent(Agent{ID: "kimi", Capabilities: []string{"kimi"}})
	q.RegisterAgent(Agent{ID: "gemini", Capabilities: []string{"gemini"}})

	_, err := q.Enqueue(EnqueueInput{Payload: "pinned", Type: "search", Target: "gemini"})
	require.NoError(t, err)

	_, err = q.Dequeue("kimi")
	assert.ErrorIs(t, err, ErrNoCommandsAvailable)

	got, err := q.Dequeue("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.AssignedAgent)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q, err := New(Config{MaxSize: 2})
	require.NoError(t, err)

	_, err = q.Enqueue(EnqueueInput{Payload: "1", Type: "chat"})
	require.NoError(t, err)
	_, err = q.Enqueue(EnqueueInput{Payload: "2", Type: "chat"})
	require.NoError(t, err)
	_, err = q.Enqueue(EnqueueInput{Payload: "3", Type: "chat"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestCancelQueuedCommand(t *testing.T) {
	q := newTestQueue(t)

	cmd, err := q.Enqueue(EnqueueInput{Payload: "x", Type: "chat"})
	require.NoError(t, err)

	cancelled, err := q.Cancel(cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Zero(t, q.Depth())

	// Terminal transitions are final.
	_, err = q.Cancel(cmd.ID)
	assert.Error(t, err)
	_, err = q.Complete(cmd.ID, "late", true)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDistributeResearchPrefersSearchCapable(t *testing.T) {
	q := newTestQueue(t)
	q.RegisterAgent(Agent{ID: "deepseek", Capabilities: []string{"deepseek"}})
	q.RegisterAgent(Agent{ID: "kimi", Capabilities: []string{"kimi"}})

	cmd, err := q.DistributeResearch("find docs")
	require.NoError(t, err)
	assert.Equal(t, "search", cmd.Type)
	assert.Equal(t, "kimi", cmd.Target)
	assert.Equal(t, "find docs", cmd.Payload)
}

func TestBroadcastEnqueuesPerAgent(t *testing.T) {
	q := newTestQueue(t)
	q.RegisterAgent(Agent{ID: "claude", Capabilities: []string{"claude"}})
	q.RegisterAgent(Agent{ID: "gemini", Capabilities: []string{"gemini"}})

	commands, err := q.Broadcast("hello all", nil)
	require.NoError(t, err)
	require.Len(t, commands, 2)
	targets := []string{commands[0].Target, commands[1].Target}
	assert.ElementsMatch(t, []string{"claude", "gemini"}, targets)
	assert.Equal(t, 2, q.Depth())
}

func TestSnapshotRestoreRequeuesRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue_state.json")

	q, err := New(Config{SnapshotPath: path})
	require.NoError(t, err)
	queued, err := q.Enqueue(EnqueueInput{Payload: "waiting", Type: "chat"})
	require.NoError(t, err)
	running, err := q.Enqueue(EnqueueInput{Payload: "inflight", Type: "chat", Priority: PriorityHigh})
	require.NoError(t, err)
	_, err = q.Dequeue("")
	require.NoError(t, err)
	done, err := q.Enqueue(EnqueueInput{Payload: "finished", Type: "chat", Priority: PriorityCritical})
	require.NoError(t, err)
	_, err = q.Dequeue("")
	require.NoError(t, err)
	_, err = q.Complete(done.ID, "ok", true)
	require.NoError(t, err)

	// Simulate a restart from the snapshot file.
	restored, err := New(Config{SnapshotPath: path})
	require.NoError(t, err)

	cmd, ok := restored.Get(running.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, cmd.Status, "running command must be re-queued on restore")
	assert.Empty(t, cmd.AssignedAgent)

	cmd, ok = restored.Get(done.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, cmd.Status)

	cmd, ok = restored.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, cmd.Status)
	assert.Equal(t, 2, restored.Depth())
}

func TestListFiltersByStatus(t *testing.T) {
	q := newTestQueue(t)
	a, err := q.Enqueue(EnqueueInput{Payload: "a", Type: "chat"})
	require.NoError(t, err)
	_, err = q.Enqueue(EnqueueInput{Payload: "b", Type: "chat"})
	require.NoError(t, err)
	_, err = q.Dequeue("")
	require.NoError(t, err)
	_, err = q.Complete(a.ID, "done", true)
	require.NoError(t, err)

	assert.Len(t, q.List(StatusCompleted), 1)
	assert.Len(t, q.List(StatusQueued), 1)
	assert.Len(t, q.List(""), 2)
}
