package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/polyhub/polyhub/pkg/audit"
	"github.com/polyhub/polyhub/pkg/config"
	"github.com/polyhub/polyhub/pkg/mesh"
	"github.com/polyhub/polyhub/pkg/observability"
	"github.com/polyhub/polyhub/pkg/trace"
)

// Chain engine errors.
var (
	ErrChainNotFound  = errors.New("chain not found")
	ErrChainTerminal  = errors.New("chain already finished")
	ErrChainNotPaused = errors.New("chain is not paused")
	ErrEmptyPrompt    = errors.New("user prompt is empty")
)

// DefaultCaller identifies the engine to the mesh guard pipeline.
const DefaultCaller = "chain_engine"

// pauseCheckInterval is how often a paused loop re-reads its status.
const pauseCheckInterval = 100 * time.Millisecond

// Caller is the slice of the mesh the engine depends on.
type Caller interface {
	Call(ctx context.Context, in mesh.CallInput) *mesh.CallResult
	Delegate(ctx context.Context, in mesh.DelegateInput) *mesh.DelegateResult
}

// Deps carries the engine's collaborators.
type Deps struct {
	Mesh     Caller
	Profiles *config.ProfileRegistry
	Audit    *audit.Log
	Metrics  *observability.Metrics
}

// Engine drives multi-cycle chains against the mesh.
type Engine struct {
	mesh     Caller
	profiles *config.ProfileRegistry
	audit    *audit.Log
	metrics  *observability.Metrics

	caller        string
	lead          string
	maxCycles     int
	maxParallel   int
	taskTimeout   time.Duration
	workspaceRoot string

	now func() time.Time

	mu              sync.Mutex
	chains          map[string]*Chain
	projectOverlays map[string]*Autoprompt

	wg sync.WaitGroup
}

// Option tunes an Engine.
type Option func(*Engine)

// WithCaller sets the caller identity used for mesh calls.
func WithCaller(caller string) Option {
	return func(e *Engine) { e.caller = caller }
}

// New builds an Engine from its dependencies and chain configuration.
func New(deps Deps, cfg *config.ChainConfig, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultChainConfig(config.DefaultDataDir)
	}
	e := &Engine{
		mesh:            deps.Mesh,
		profiles:        deps.Profiles,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		caller:          DefaultCaller,
		lead:            cfg.Lead,
		maxCycles:       cfg.MaxCycles,
		maxParallel:     cfg.MaxParallel,
		taskTimeout:     cfg.TaskTimeout,
		workspaceRoot:   cfg.WorkspaceRoot,
		now:             time.Now,
		chains:          make(map[string]*Chain),
		projectOverlays: make(map[string]*Autoprompt),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetProjectAutoprompt installs a per-project autoprompt overlay, merged
// between the profile layer and the per-start override.
func (e *Engine) SetProjectAutoprompt(projectID string, ap *Autoprompt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projectOverlays[projectID] = ap
}

// StartInput parameterizes a new chain.
type StartInput struct {
	UserPrompt        string
	ProjectID         string
	MaxCycles         int
	AutopromptProfile string
	Override          *Autoprompt
	TraceID           string
}

// StartChain registers a RUNNING chain, returns it immediately, and
// drives the cycle loop in the background.
func (e *Engine) StartChain(in StartInput) (*Chain, error) {
	if strings.TrimSpace(in.UserPrompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if in.ProjectID == "" {
		in.ProjectID = newProjectID()
	}
	if in.TraceID == "" {
		in.TraceID = trace.NewID()
	}

	ch := &Chain{
		ChainID:           newChainID(),
		ProjectID:         in.ProjectID,
		UserPrompt:        in.UserPrompt,
		Status:            StatusRunning,
		MaxCycles:         e.resolveMaxCycles(in),
		AutopromptProfile: in.AutopromptProfile,
		TraceID:           in.TraceID,
		StartedAt:         e.now(),
	}
	ch.Workspace = createWorkspace(e.workspaceRoot, ch)
	writeConfigSnapshot(ch)

	e.mu.Lock()
	e.chains[ch.ChainID] = ch
	e.mu.Unlock()

	e.audit.Record(audit.Entry{
		TraceID:  ch.TraceID,
		CallerID: e.caller,
		Action:   audit.ActionChainStarted,
		Level:    audit.LevelInfo,
		Metadata: map[string]any{
			"chain_id":   ch.ChainID,
			"project_id": ch.ProjectID,
			"max_cycles": ch.MaxCycles,
			"profile":    ch.AutopromptProfile,
		},
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ch, in)
	}()

	return e.snapshotChain(ch), nil
}

func (e *Engine) resolveMaxCycles(in StartInput) int {
	if in.MaxCycles > 0 {
		return in.MaxCycles
	}
	if in.Override != nil && in.Override.MaxCycles > 0 {
		return in.Override.MaxCycles
	}
	if e.maxCycles > 0 {
		return e.maxCycles
	}
	return 10
}

// run is the per-chain cycle loop. Cancel and pause are observed at
// cycle boundaries only; an in-flight cycle always completes.
func (e *Engine) run(ch *Chain, in StartInput) {
	log := slog.With("chain_id", ch.ChainID, "project_id", ch.ProjectID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Chain loop panicked", "panic", r)
			e.finish(ch, StatusFailed, "", fmt.Sprintf("chain panicked: %v", r))
		}
	}()

	ap := e.resolveLayers(ch, in)
	contextText := ch.UserPrompt

	for n := 1; n <= ch.MaxCycles; n++ {
		if !e.waitRunnable(ch) {
			e.finish(ch, StatusCancelled, "", "")
			return
		}

		cycle := e.runCycle(context.Background(), ch, n, contextText, ap)
		writeCycleFile(ch.Workspace, cycle)

		e.mu.Lock()
		ch.Cycles = append(ch.Cycles, cycle)
		ch.CurrentCycle = n
		ch.TotalTokens += cycle.TokensUsed
		e.mu.Unlock()

		switch {
		case cycle.NextAction == ActionDone ||
			strings.Contains(cycle.Consolidation, MarkerDone):
			e.finish(ch, StatusCompleted, cycle.Consolidation, "")
			return
		case cycle.NextAction == ActionError:
			errMsg := strings.Join(cycle.Errors, "; ")
			if errMsg == "" {
				errMsg = cycle.Consolidation
			}
			e.finish(ch, StatusFailed, "", errMsg)
			return
		}
		contextText = cycle.Consolidation
	}

	// Cycle cap reached: the last consolidation stands as the output.
	final := ""
	e.mu.Lock()
	if len(ch.Cycles) > 0 {
		final = ch.Cycles[len(ch.Cycles)-1].Consolidation
	}
	e.mu.Unlock()
	e.finish(ch, StatusCompleted, final, "")
}

// resolveLayers merges global defaults, the named profile, the project
// overlay, and the per-start override.
func (e *Engine) resolveLayers(ch *Chain, in StartInput) Autoprompt {
	var profile *config.ProfileConfig
	if in.AutopromptProfile != "" && e.profiles != nil {
		p, err := e.profiles.Get(in.AutopromptProfile)
		if err != nil {
			slog.Warn("Autoprompt profile not found, using defaults",
				"chain_id", ch.ChainID, "profile", in.AutopromptProfile)
		} else {
			profile = p
		}
	}
	e.mu.Lock()
	project := e.projectOverlays[ch.ProjectID]
	e.mu.Unlock()
	return resolveAutoprompt(profile, project, in.Override)
}

// waitRunnable blocks while the chain is PAUSED and reports whether the
// loop should run another cycle.
func (e *Engine) waitRunnable(ch *Chain) bool {
	for {
		e.mu.Lock()
		status := ch.Status
		e.mu.Unlock()
		switch status {
		case StatusRunning:
			return true
		case StatusPaused:
			time.Sleep(pauseCheckInterval)
		default:
			return false
		}
	}
}

// finish sets the terminal state, persists result.json, and audits.
func (e *Engine) finish(ch *Chain, status Status, finalOutput, errMsg string) {
	e.mu.Lock()
	ch.Status = status
	ch.CompletedAt = e.now()
	ch.FinalOutput = finalOutput
	ch.Error = errMsg
	snap := e.snapshotChainLocked(ch)
	e.mu.Unlock()

	writeResultFile(snap)

	level := audit.LevelInfo
	if status == StatusFailed {
		level = audit.LevelError
	}
	e.audit.Record(audit.Entry{
		TraceID:      ch.TraceID,
		CallerID:     e.caller,
		Action:       audit.ActionChainFinished,
		Level:        level,
		ErrorMessage: errMsg,
		Metadata: map[string]any{
			"chain_id":     ch.ChainID,
			"status":       string(status),
			"cycles":       snap.CurrentCycle,
			"total_tokens": snap.TotalTokens,
		},
	})
	slog.Info("Chain finished",
		"chain_id", ch.ChainID, "status", status, "cycles", snap.CurrentCycle)
}

// Cancel marks a chain CANCELLED. A running cycle completes before the
// loop observes the flag.
func (e *Engine) Cancel(chainID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.chains[chainID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if ch.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrChainTerminal, chainID, ch.Status)
	}
	ch.Status = StatusCancelled
	return nil
}

// Pause suspends the loop at the next cycle boundary.
func (e *Engine) Pause(chainID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.chains[chainID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if ch.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrChainTerminal, chainID, ch.Status)
	}
	ch.Status = StatusPaused
	return nil
}

// Resume restarts a paused chain.
func (e *Engine) Resume(chainID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.chains[chainID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	if ch.Status != StatusPaused {
		return fmt.Errorf("%w: %s is %s", ErrChainNotPaused, chainID, ch.Status)
	}
	ch.Status = StatusRunning
	return nil
}

// Status returns a point-in-time copy of one chain.
func (e *Engine) Status(chainID string) (*Chain, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	return e.snapshotChainLocked(ch), nil
}

// List returns copies of all known chains ordered by start time.
func (e *Engine) List() []*Chain {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Chain, 0, len(e.chains))
	for _, ch := range e.chains {
		out = append(out, e.snapshotChainLocked(ch))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Logs returns copies of one chain's executed cycles in order.
func (e *Engine) Logs(chainID string) ([]*Cycle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	out := make([]*Cycle, len(ch.Cycles))
	copy(out, ch.Cycles)
	return out, nil
}

// ActiveCount returns how many chains are not yet terminal.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ch := range e.chains {
		if !ch.Status.Terminal() {
			n++
		}
	}
	return n
}

// Wait blocks until every chain loop has exited. Cancel active chains
// first for a bounded shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) snapshotChain(ch *Chain) *Chain {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotChainLocked(ch)
}

// snapshotChainLocked shallow-copies the chain; executed cycles are
// append-only so sharing their pointers is safe.
func (e *Engine) snapshotChainLocked(ch *Chain) *Chain {
	snap := *ch
	snap.Cycles = make([]*Cycle, len(ch.Cycles))
	copy(snap.Cycles, ch.Cycles)
	return &snap
}
