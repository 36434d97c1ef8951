package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polyhub/polyhub/pkg/mesh"
)

// runCycle executes one plan → dispatch → consolidate pass over the
// given context text.
func (e *Engine) runCycle(ctx context.Context, ch *Chain, cycleNumber int, contextText string, ap Autoprompt) *Cycle {
	cycle := &Cycle{
		CycleNumber:  cycleNumber,
		StartedAt:    e.now(),
		AgentResults: make(map[string]TaskResult),
		NextAction:   ActionContinue,
	}
	defer func() {
		cycle.CompletedAt = e.now()
		cycle.ExecutionTimeMs = cycle.CompletedAt.Sub(cycle.StartedAt).Milliseconds()
		e.metrics.ObserveChainCycle(string(cycle.NextAction))
	}()

	log := slog.With("chain_id", ch.ChainID, "cycle", cycleNumber)

	// 1. Plan.
	planningPrompt := buildPlanningPrompt(ap, cycleNumber, contextText)
	cycle.TokensUsed += estimateTokens(planningPrompt)
	leadRes := e.mesh.Call(ctx, mesh.CallInput{
		Target:       e.lead,
		Prompt:       planningPrompt,
		Caller:       e.caller,
		TraceID:      ch.TraceID,
		SystemPrompt: ap.SystemPrompt,
	})
	if !leadRes.Success {
		cycle.Errors = append(cycle.Errors, fmt.Sprintf("planning call failed: %s", leadRes.Error))
		cycle.NextAction = ActionError
		return cycle
	}
	cycle.LeadAnalysis = leadRes.Response
	cycle.TokensUsed += estimateTokens(leadRes.Response)

	plan := ParsePlan(leadRes.Response)
	if plan == nil {
		// No plan is a defined state: the lead answered directly and its
		// response stands as the consolidation.
		cycle.Consolidation = leadRes.Response
		if strings.Contains(leadRes.Response, MarkerDone) {
			cycle.NextAction = ActionDone
		} else {
			cycle.NextAction = ActionContinue
		}
		log.Debug("No plan in lead response, treating as direct answer",
			"next_action", cycle.NextAction)
		return cycle
	}
	cycle.AgentPlan = plan
	cycle.AgentTasks = plan.Tasks
	log.Info("Plan parsed", "source", plan.Source, "tasks", len(plan.Tasks))

	// 2. Dispatch.
	maxParallel := e.maxParallel
	if ap.MaxParallel > 0 && ap.MaxParallel < maxParallel {
		maxParallel = ap.MaxParallel
	}
	cycle.AgentResults = e.dispatchTasks(ctx, plan, ch.TraceID, maxParallel)
	for _, task := range plan.Tasks {
		cycle.TokensUsed += estimateTokens(task.Prompt)
		if res, ok := cycle.AgentResults[task.ID]; ok {
			cycle.TokensUsed += estimateTokens(res.Response)
		}
	}

	// 3. Consolidate.
	consolidationPrompt := buildConsolidationPrompt(ap, contextText, plan, cycle.AgentResults)
	cycle.TokensUsed += estimateTokens(consolidationPrompt)
	consRes := e.mesh.Call(ctx, mesh.CallInput{
		Target:       e.lead,
		Prompt:       consolidationPrompt,
		Caller:       e.caller,
		TraceID:      ch.TraceID,
		SystemPrompt: ap.SystemPrompt,
	})
	if !consRes.Success {
		cycle.Errors = append(cycle.Errors, fmt.Sprintf("consolidation call failed: %s", consRes.Error))
		cycle.NextAction = ActionError
		return cycle
	}
	cycle.Consolidation = consRes.Response
	cycle.TokensUsed += estimateTokens(consRes.Response)
	cycle.NextAction = ParseNextAction(consRes.Response)
	return cycle
}
