package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polyhub/polyhub/pkg/config"
)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	RunningCount  int            `json:"running_count"`
	AgentCount    int            `json:"agent_count"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerPool manages a pool of queue workers draining one queue.
type WorkerPool struct {
	queue    *Queue
	config   *config.QueueConfig
	executor CommandExecutor
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(q *Queue, cfg *config.QueueConfig, executor CommandExecutor) *WorkerPool {
	return &WorkerPool{
		queue:    q,
		config:   cfg,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.queue, p.config, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish, bounded
// by the configured graceful shutdown timeout. Workers finish their
// current commands before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		close(done)
	}()

	timeout := p.config.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(timeout):
		slog.Warn("Worker pool shutdown timed out; in-flight commands will be re-queued on restart",
			"timeout", timeout)
	}
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.queue.mu.Lock()
	depth := p.queue.heap.Len()
	running := len(p.queue.running)
	agents := len(p.queue.agents)
	p.queue.mu.Unlock()

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    depth,
		RunningCount:  running,
		AgentCount:    agents,
		WorkerStats:   workerStats,
	}
}
