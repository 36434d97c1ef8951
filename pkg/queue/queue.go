package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/polyhub/polyhub/pkg/observability"
)

// DefaultMaxSize bounds the number of live (queued plus running)
// commands when no override is configured.
const DefaultMaxSize = 1000

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the live-command cap has been reached.
	ErrQueueFull = errors.New("queue full")

	// ErrNoCommandsAvailable indicates no queued command is ready.
	ErrNoCommandsAvailable = errors.New("no commands available")

	// ErrNoAgentsAvailable indicates queued commands exist but no
	// available agent matches any of them.
	ErrNoAgentsAvailable = errors.New("no matching agents available")

	// ErrUnknownCommand indicates the command id is not tracked.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNotRunning indicates a completion was reported for a command
	// that is not RUNNING.
	ErrNotRunning = errors.New("command not running")
)

// Config tunes queue construction.
type Config struct {
	// MaxSize caps live commands. <= 0 selects DefaultMaxSize.
	MaxSize int
	// SnapshotPath is where the state file lives. Empty disables
	// persistence.
	SnapshotPath string
	// Metrics is optional.
	Metrics *observability.Metrics
}

// Queue is the prioritized command queue. One mutex guards the heap, the
// id map, and the agent registry; the snapshot is rewritten inside the
// lock after every mutation so the file always reflects a consistent
// state.
type Queue struct {
	mu      sync.Mutex
	heap    commandHeap
	byID    map[string]*Command
	running map[string]*Command
	agents  map[string]*Agent

	maxSize      int
	snapshotPath string
	metrics      *observability.Metrics

	now func() time.Time
}

// New creates a queue, replaying the snapshot file when one exists.
// Commands found RUNNING in the snapshot are reset to QUEUED.
func New(cfg Config) (*Queue, error) {
	q := &Queue{
		byID:         make(map[string]*Command),
		running:      make(map[string]*Command),
		agents:       make(map[string]*Agent),
		maxSize:      cfg.MaxSize,
		snapshotPath: cfg.SnapshotPath,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
	if q.maxSize <= 0 {
		q.maxSize = DefaultMaxSize
	}
	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

// EnqueueInput describes one command submission.
type EnqueueInput struct {
	Payload  string
	Type     string
	Priority Priority
	// Target pins the command to one agent id. Empty routes by
	// capability.
	Target string
	// MaxRetries <= 0 selects DefaultMaxRetries.
	MaxRetries int
}

// Enqueue creates and indexes a QUEUED command. Fails with ErrQueueFull
// when live commands have reached the cap.
func (q *Queue) Enqueue(in EnqueueInput) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len()+len(q.running) >= q.maxSize {
		return nil, ErrQueueFull
	}
	if !in.Priority.IsValid() {
		in.Priority = PriorityNormal
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = DefaultMaxRetries
	}

	now := q.now()
	cmd := &Command{
		ID:          newCommandID(),
		Priority:    in.Priority,
		EnqueueTime: now,
		Type:        in.Type,
		Payload:     in.Payload,
		Target:      in.Target,
		Status:      StatusQueued,
		MaxRetries:  in.MaxRetries,
		CreatedAt:   now,
	}
	q.byID[cmd.ID] = cmd
	heap.Push(&q.heap, cmd)
	q.afterMutationLocked()

	slog.Debug("Command enqueued",
		"command_id", cmd.ID, "type", cmd.Type, "priority", cmd.Priority.String())
	return cmd.clone(), nil
}

// Dequeue claims the next command. With an empty agentID the heap minimum
// is taken as-is; with an agent, the best queued command whose target and
// type-capability requirements the agent satisfies is taken, and the
// agent is marked busy.
func (q *Queue) Dequeue(agentID string) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, ErrNoCommandsAvailable
	}

	if agentID == "" {
		cmd := heap.Pop(&q.heap).(*Command)
		q.markRunningLocked(cmd, "")
		return cmd.clone(), nil
	}

	agent, ok := q.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", agentID)
	}
	idx, found := q.matchLocked(func(cmd *Command) bool {
		if cmd.Target != "" && cmd.Target != agentID {
			return false
		}
		return agentMatchesType(agent, cmd.Type)
	})
	if !found {
		return nil, ErrNoCommandsAvailable
	}
	cmd := q.heap.removeAt(idx)
	q.markRunningLocked(cmd, agentID)
	return cmd.clone(), nil
}

// claimNext picks the best queued command that some available agent can
// serve, assigns it, and returns both. Workers drain the queue through
// this path.
func (q *Queue) claimNext() (*Command, *Agent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, nil, ErrNoCommandsAvailable
	}

	var chosen *Agent
	idx, found := q.matchLocked(func(cmd *Command) bool {
		chosen = q.agentForLocked(cmd)
		return chosen != nil
	})
	if !found {
		return nil, nil, ErrNoAgentsAvailable
	}
	cmd := q.heap.removeAt(idx)
	q.markRunningLocked(cmd, chosen.ID)
	return cmd.clone(), cloneAgent(chosen), nil
}

// matchLocked scans queued commands in (priority, enqueue_time) order and
// returns the heap index of the first one the predicate accepts.
func (q *Queue) matchLocked(accept func(*Command) bool) (int, bool) {
	order := make([]int, q.heap.Len())
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return q.heap.Less(order[a], order[b])
	})
	for _, i := range order {
		if accept(q.heap[i]) {
			return i, true
		}
	}
	return 0, false
}

// agentForLocked resolves the agent that should serve a command: its
// pinned target when set, otherwise the least-busy available agent whose
// capabilities match the command type.
func (q *Queue) agentForLocked(cmd *Command) *Agent {
	if cmd.Target != "" {
		agent, ok := q.agents[cmd.Target]
		if ok && agent.Available && agentMatchesType(agent, cmd.Type) {
			return agent
		}
		return nil
	}

	var best *Agent
	for _, agent := range q.sortedAgentsLocked() {
		if !agent.Available || !agentMatchesType(agent, cmd.Type) {
			continue
		}
		if best == nil || agent.CompletedCount+agent.FailedCount < best.CompletedCount+best.FailedCount {
			best = agent
		}
	}
	return best
}

// markRunningLocked flips a dequeued command to RUNNING and books the
// agent, then snapshots.
func (q *Queue) markRunningLocked(cmd *Command, agentID string) {
	now := q.now()
	cmd.Status = StatusRunning
	cmd.AssignedAgent = agentID
	cmd.StartedAt = now
	q.running[cmd.ID] = cmd

	if agent, ok := q.agents[agentID]; ok {
		agent.Available = false
		agent.CurrentCommandID = cmd.ID
		agent.LastActive = now
	}
	q.afterMutationLocked()
}

// Complete reports the outcome of a RUNNING command. A failure with
// retries left re-enters the queue with a fresh enqueue time; otherwise
// the command goes terminal.
func (q *Queue) Complete(id, result string, success bool) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	if cmd.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, id, cmd.Status)
	}

	now := q.now()
	delete(q.running, id)
	elapsed := now.Sub(cmd.StartedAt)

	switch {
	case success:
		cmd.Status = StatusCompleted
		cmd.Result = result
		cmd.CompletedAt = now
		q.releaseAgentLocked(cmd, elapsed, true)
		q.metrics.ObserveQueueCommand("completed")
	default:
		cmd.Retries++
		cmd.Error = result
		q.releaseAgentLocked(cmd, elapsed, false)
		if cmd.Retries < cmd.MaxRetries {
			cmd.Status = StatusQueued
			cmd.AssignedAgent = ""
			cmd.StartedAt = time.Time{}
			// Re-enter with the current time so retries do not starve
			// newer work at the same priority.
			cmd.EnqueueTime = now
			heap.Push(&q.heap, cmd)
			q.metrics.ObserveQueueCommand("retried")
			slog.Warn("Command failed, re-queued",
				"command_id", id, "retries", cmd.Retries, "max_retries", cmd.MaxRetries)
		} else {
			cmd.Status = StatusFailed
			cmd.CompletedAt = now
			q.metrics.ObserveQueueCommand("failed")
			slog.Error("Command failed permanently",
				"command_id", id, "retries", cmd.Retries, "error", result)
		}
	}

	q.afterMutationLocked()
	return cmd.clone(), nil
}

// releaseAgentLocked returns the command's agent to the pool and updates
// its counters.
func (q *Queue) releaseAgentLocked(cmd *Command, elapsed time.Duration, success bool) {
	agent, ok := q.agents[cmd.AssignedAgent]
	if !ok {
		// Dequeued without an agent filter; nothing to release.
		return
	}
	agent.Available = true
	agent.CurrentCommandID = ""
	agent.LastActive = q.now()
	if success {
		agent.CompletedCount++
	} else {
		agent.FailedCount++
	}
	total := agent.CompletedCount + agent.FailedCount
	agent.AvgResponseTimeMs += (float64(elapsed.Milliseconds()) - agent.AvgResponseTimeMs) / float64(total)
}

// Cancel stops a command. QUEUED commands leave the heap; RUNNING
// commands are flagged terminal and their agent is freed (the in-flight
// handler's eventual result is discarded by Complete's status check).
func (q *Queue) Cancel(id string) (*Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	if cmd.Terminal() {
		return nil, fmt.Errorf("command %s already %s", id, cmd.Status)
	}

	if cmd.Status == StatusQueued {
		for i, queued := range q.heap {
			if queued.ID == id {
				q.heap.removeAt(i)
				break
			}
		}
	} else {
		delete(q.running, id)
		q.releaseAgentLocked(cmd, q.now().Sub(cmd.StartedAt), false)
	}
	cmd.Status = StatusCancelled
	cmd.CompletedAt = q.now()
	q.metrics.ObserveQueueCommand("cancelled")
	q.afterMutationLocked()
	return cmd.clone(), nil
}

// DistributeResearch routes a research query to the least-busy capable
// agent: search-capable first, then research-capable, then anyone.
func (q *Queue) DistributeResearch(query string) (*Command, error) {
	q.mu.Lock()
	target := q.leastBusyLocked("search")
	if target == "" {
		target = q.leastBusyLocked("research")
	}
	if target == "" {
		target = q.leastBusyLocked("")
	}
	q.mu.Unlock()

	if target == "" {
		return nil, ErrNoAgentsAvailable
	}
	return q.Enqueue(EnqueueInput{
		Payload:  query,
		Type:     "search",
		Priority: PriorityNormal,
		Target:   target,
	})
}

// leastBusyLocked returns the id of the least-busy agent matching the
// command type ("" matches anyone), or "" when none exists.
func (q *Queue) leastBusyLocked(commandType string) string {
	var best *Agent
	for _, agent := range q.sortedAgentsLocked() {
		if commandType != "" && !agentMatchesType(agent, commandType) {
			continue
		}
		if best == nil || busyScore(agent) < busyScore(best) {
			best = agent
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// busyScore ranks agents for load-based selection; busy agents sort after
// idle ones.
func busyScore(a *Agent) int {
	score := a.CompletedCount + a.FailedCount
	if !a.Available {
		score += 1 << 20
	}
	return score
}

// Broadcast enqueues one copy of the payload per target agent, or per
// registered agent when targets is empty.
func (q *Queue) Broadcast(payload string, targets []string) ([]*Command, error) {
	if len(targets) == 0 {
		q.mu.Lock()
		for _, agent := range q.sortedAgentsLocked() {
			targets = append(targets, agent.ID)
		}
		q.mu.Unlock()
	}

	commands := make([]*Command, 0, len(targets))
	for _, target := range targets {
		cmd, err := q.Enqueue(EnqueueInput{
			Payload:  payload,
			Type:     "chat",
			Priority: PriorityNormal,
			Target:   target,
		})
		if err != nil {
			return commands, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// RegisterAgent adds or replaces an agent. New agents start available.
func (q *Queue) RegisterAgent(agent Agent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	agent.Available = true
	agent.LastActive = q.now()
	q.agents[agent.ID] = &agent
}

// Get returns a copy of one command.
func (q *Queue) Get(id string) (*Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return cmd.clone(), true
}

// List returns copies of all commands with the given status, or every
// command when status is empty, newest first.
func (q *Queue) List(status Status) []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Command, 0, len(q.byID))
	for _, cmd := range q.byID {
		if status == "" || cmd.Status == status {
			out = append(out, cmd.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Depth returns the number of queued commands.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Agents returns copies of every registered agent, sorted by id.
func (q *Queue) Agents() []*Agent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Agent, 0, len(q.agents))
	for _, agent := range q.sortedAgentsLocked() {
		out = append(out, cloneAgent(agent))
	}
	return out
}

func (q *Queue) sortedAgentsLocked() []*Agent {
	ids := make([]string, 0, len(q.agents))
	for id := range q.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	agents := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, q.agents[id])
	}
	return agents
}

// afterMutationLocked refreshes metrics and rewrites the snapshot.
func (q *Queue) afterMutationLocked() {
	q.metrics.SetQueueDepth(q.heap.Len())
	q.snapshotLocked()
}

func (c *Command) clone() *Command {
	copied := *c
	return &copied
}

func cloneAgent(a *Agent) *Agent {
	copied := *a
	copied.Capabilities = append([]string(nil), a.Capabilities...)
	return &copied
}
