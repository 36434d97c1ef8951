package mesh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/polyhub/polyhub/pkg/trace"
)

// BroadcastInput fans one prompt out to several endpoints.
type BroadcastInput struct {
	Targets      []string
	Prompt       string
	Caller       string
	TraceID      string
	SystemPrompt string

	// Weights biases consensus analysis per target. Ignored by Broadcast.
	Weights map[string]float64
}

// BroadcastResult aggregates the per-target outcomes of a broadcast.
type BroadcastResult struct {
	TraceID   string                 `json:"trace_id"`
	Results   map[string]*CallResult `json:"results"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
}

// Broadcast sends the prompt to every target in parallel. Each per-target
// call runs the full guard pipeline; one target's denial never blocks the
// others. All calls share one trace id, which is safe because each call
// pushes and pops its own chain entry.
func (m *Mesh) Broadcast(ctx context.Context, in BroadcastInput) *BroadcastResult {
	if in.TraceID == "" {
		in.TraceID = trace.NewID()
	}

	results := make(map[string]*CallResult, len(in.Targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range in.Targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			res := m.Call(ctx, CallInput{
				Target:       target,
				Prompt:       in.Prompt,
				Caller:       in.Caller,
				TraceID:      in.TraceID,
				SystemPrompt: in.SystemPrompt,
			})
			mu.Lock()
			results[target] = res
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	out := &BroadcastResult{TraceID: in.TraceID, Results: results}
	for _, res := range results {
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}

// ConsensusResult is a broadcast plus the lead endpoint's analysis of the
// collected answers.
type ConsensusResult struct {
	TraceID    string                 `json:"trace_id"`
	Results    map[string]*CallResult `json:"results"`
	Analysis   string                 `json:"analysis,omitempty"`
	AnalyzedBy string                 `json:"analyzed_by,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

const consensusSystemPrompt = "You compare answers from multiple language models. " +
	"Reply with four sections: agreement (what all answers share), differences, " +
	"recommendation (the most defensible combined answer), and agreement_score " +
	"(a number between 0 and 1). Be concise."

// Consensus broadcasts the prompt, then asks the lead endpoint to compare
// the successful answers. Fewer than two successful answers is
// no-consensus: the analysis step is skipped and Error is set. Weights,
// when given, are passed through to the analysis prompt so the lead can
// weigh contributors unevenly.
func (m *Mesh) Consensus(ctx context.Context, in BroadcastInput) *ConsensusResult {
	bc := m.Broadcast(ctx, in)
	out := &ConsensusResult{TraceID: bc.TraceID, Results: bc.Results}
	if bc.Succeeded < 2 {
		out.Error = "no consensus: fewer than two successful responses"
		return out
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question:\n%s\n\nAnswers:\n", in.Prompt)
	for _, target := range sortedTargets(bc.Results) {
		res := bc.Results[target]
		if !res.Success {
			continue
		}
		if w, ok := in.Weights[target]; ok {
			fmt.Fprintf(&sb, "\n--- %s (weight %.2f) ---\n%s\n", target, w, res.Response)
		} else {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", target, res.Response)
		}
	}

	analysis := m.Call(ctx, CallInput{
		Target:       m.lead,
		Prompt:       sb.String(),
		Caller:       in.Caller,
		TraceID:      bc.TraceID,
		SystemPrompt: consensusSystemPrompt,
	})
	if !analysis.Success {
		out.Error = fmt.Sprintf("consensus analysis failed: %s", analysis.Error)
		return out
	}
	out.Analysis = analysis.Response
	out.AnalyzedBy = analysis.ActualTarget
	return out
}

func sortedTargets(results map[string]*CallResult) []string {
	targets := make([]string, 0, len(results))
	for t := range results {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}
