package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/polyhub/polyhub/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentCommandID  string       `json:"current_command_id,omitempty"`
	CommandsProcessed int          `json:"commands_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// Worker is a single queue worker that polls for and executes commands.
type Worker struct {
	id       string
	queue    *Queue
	config   *config.QueueConfig
	executor CommandExecutor
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentCommandID  string
	commandsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id string, q *Queue, cfg *config.QueueConfig, executor CommandExecutor) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		config:       cfg,
		executor:     executor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. It is safe
// to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentCommandID:  w.currentCommandID,
		CommandsProcessed: w.commandsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoCommandsAvailable) || errors.Is(err, ErrNoAgentsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing command", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next servable command and runs it to a
// terminal report.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	cmd, agent, err := w.queue.claimNext()
	if err != nil {
		return err
	}

	log := slog.With("command_id", cmd.ID, "worker_id", w.id, "agent", agent.ID)
	log.Info("Command claimed", "type", cmd.Type, "priority", cmd.Priority.String())

	w.setStatus(WorkerStatusWorking, cmd.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	cmdCtx, cancel := context.WithTimeout(ctx, w.config.CommandTimeout)
	defer cancel()

	result, execErr := w.executor.Execute(cmdCtx, cmd)
	if execErr == nil && cmdCtx.Err() != nil {
		execErr = cmdCtx.Err()
	}

	// Report outcome with a background context path: the queue mutates in
	// memory regardless of the command context's fate.
	if execErr != nil {
		if _, err := w.queue.Complete(cmd.ID, execErr.Error(), false); err != nil {
			// Cancelled mid-flight; the discarded result is expected.
			log.Debug("Completion dropped", "error", err)
		}
	} else {
		if _, err := w.queue.Complete(cmd.ID, result, true); err != nil {
			log.Debug("Completion dropped", "error", err)
		}
	}

	w.mu.Lock()
	w.commandsProcessed++
	w.mu.Unlock()

	log.Info("Command processing complete", "success", execErr == nil)
	return nil
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, commandID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentCommandID = commandID
	w.lastActivity = time.Now()
}
