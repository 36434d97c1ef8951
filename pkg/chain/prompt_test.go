package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/config"
)

func TestResolveAutopromptLayers(t *testing.T) {
	profile := &config.ProfileConfig{SystemPrompt: "profile prompt"}
	project := &Autoprompt{TaskPrefix: ">>> project", MaxParallel: 2}
	override := &Autoprompt{SystemPrompt: "override prompt"}

	merged := resolveAutoprompt(profile, project, override)

	assert.Equal(t, "override prompt", merged.SystemPrompt, "override beats profile")
	assert.Equal(t, ">>> project", merged.TaskPrefix, "project beats global default")
	assert.Equal(t, 2, merged.MaxParallel)
	assert.Equal(t, "=== END CONTEXT ===", merged.TaskSuffix, "untouched fields keep global defaults")
}

func TestResolveAutopromptDefaultsOnly(t *testing.T) {
	merged := resolveAutoprompt(nil, nil, nil)
	require.NotEmpty(t, merged.SystemPrompt)
	assert.Contains(t, merged.SystemPrompt, MarkerDone)
	assert.Equal(t, "=== TASK CONTEXT ===", merged.TaskPrefix)
}

func TestBuildConsolidationPromptOrdersByDeclaredTasks(t *testing.T) {
	plan := &Plan{
		Analysis: "two lookups",
		Tasks: []Task{
			{ID: "t1", Type: "research", Prompt: "a"},
			{ID: "t2", Type: "research", Prompt: "b"},
		},
	}
	// Results arrive keyed, not ordered; the prompt must follow the plan.
	results := map[string]TaskResult{
		"t2": {Endpoint: "beta", Success: true, Response: "second answer"},
		"t1": {Endpoint: "alpha", Success: true, Response: "first answer"},
		"t9": {Endpoint: "gamma", Success: true, Response: "undeclared extra"},
	}

	prompt := buildConsolidationPrompt(defaultAutoprompt(), "the question", plan, results)

	i1 := strings.Index(prompt, "first answer")
	i2 := strings.Index(prompt, "second answer")
	i9 := strings.Index(prompt, "undeclared extra")
	require.True(t, i1 >= 0 && i2 >= 0 && i9 >= 0)
	assert.Less(t, i1, i2, "declared order wins over map iteration order")
	assert.Less(t, i2, i9, "undeclared results trail the declared ones")
	assert.Contains(t, prompt, MarkerDone)
	assert.Contains(t, prompt, MarkerContinue)
}

func TestBuildConsolidationPromptMarksFailures(t *testing.T) {
	plan := &Plan{Tasks: []Task{{ID: "t1", Type: "code", Prompt: "x"}}}
	results := map[string]TaskResult{
		"t1": {Endpoint: "alpha", Success: false, Error: "circuit open, no fallback available"},
	}

	prompt := buildConsolidationPrompt(defaultAutoprompt(), "ctx", plan, results)
	assert.Contains(t, prompt, "t1 (alpha) FAILED")
	assert.Contains(t, prompt, "circuit open")
}

func TestBuildDependentPromptInjectsPredecessors(t *testing.T) {
	task := Task{ID: "t3", Prompt: "combine the findings", DependsOn: []string{"t1", "t2"}}
	results := map[string]TaskResult{
		"t1": {Success: true, Response: "alpha found X"},
		"t2": {Success: true, Response: "beta found Y"},
	}

	prompt := buildDependentPrompt(task, results)
	i1 := strings.Index(prompt, "alpha found X")
	i2 := strings.Index(prompt, "beta found Y")
	i3 := strings.Index(prompt, "combine the findings")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0)
	assert.Less(t, i1, i2)
	assert.Less(t, i2, i3, "the task's own prompt comes last")
}
