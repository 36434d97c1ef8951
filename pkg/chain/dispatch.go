package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/polyhub/polyhub/pkg/mesh"
)

// dispatchTasks executes a cycle's planned tasks: independents run in
// parallel batches of maxParallel, then dependents run sequentially in
// declared order with predecessor output injected. The results map is
// keyed by task id.
func (e *Engine) dispatchTasks(ctx context.Context, plan *Plan, traceID string, maxParallel int) map[string]TaskResult {
	independent := make([]Task, 0, len(plan.Tasks))
	dependent := make([]Task, 0)
	for _, task := range plan.Tasks {
		if len(task.DependsOn) == 0 {
			independent = append(independent, task)
		} else {
			dependent = append(dependent, task)
		}
	}

	results := make(map[string]TaskResult, len(plan.Tasks))
	var mu sync.Mutex

	for start := 0; start < len(independent); start += maxParallel {
		end := min(start+maxParallel, len(independent))
		var wg sync.WaitGroup
		for _, task := range independent[start:end] {
			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				res := e.runTask(ctx, task, task.Prompt, traceID)
				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
			}(task)
		}
		wg.Wait()
	}

	for _, task := range dependent {
		if unmet := unmetDependency(task, results); unmet != "" {
			results[task.ID] = TaskResult{
				Success: false,
				Error:   fmt.Sprintf("dependency failed: %s", unmet),
			}
			continue
		}
		results[task.ID] = e.runTask(ctx, task, buildDependentPrompt(task, results), traceID)
	}
	return results
}

// unmetDependency returns the first depends_on id that has not succeeded.
func unmetDependency(task Task, results map[string]TaskResult) string {
	for _, dep := range task.DependsOn {
		res, ok := results[dep]
		if !ok || !res.Success {
			return dep
		}
	}
	return ""
}

// runTask delegates one task through the mesh. A pinned target is
// honored; otherwise capability routing picks the endpoint.
func (e *Engine) runTask(ctx context.Context, task Task, prompt, traceID string) TaskResult {
	taskCtx := ctx
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	res := e.mesh.Delegate(taskCtx, mesh.DelegateInput{
		Target:   task.Target,
		TaskType: task.Type,
		Prompt:   prompt,
		Caller:   e.caller,
		TraceID:  traceID,
	})
	if !res.Success {
		return TaskResult{Endpoint: res.RoutedTo, Success: false, Error: res.Error}
	}
	return TaskResult{Endpoint: res.ActualTarget, Success: true, Response: res.Response}
}
