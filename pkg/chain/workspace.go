package chain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace persistence is best-effort: a failed write degrades
// durability, never the chain itself.

// createWorkspace makes a timestamp-named directory for one chain and
// returns its path. An empty root disables workspace persistence.
func createWorkspace(root string, ch *Chain) string {
	if root == "" {
		return ""
	}
	dir := filepath.Join(root,
		fmt.Sprintf("%s_%s", ch.StartedAt.Format("20060102_150405"), ch.ChainID[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create chain workspace", "dir", dir, "error", err)
		return ""
	}
	return dir
}

// configSnapshot is the chain's starting parameters, written once.
type configSnapshot struct {
	ChainID           string `json:"chain_id"`
	ProjectID         string `json:"project_id"`
	UserPrompt        string `json:"user_prompt"`
	MaxCycles         int    `json:"max_cycles"`
	AutopromptProfile string `json:"autoprompt_profile,omitempty"`
	TraceID           string `json:"trace_id"`
	StartedAt         string `json:"started_at"`
}

func writeConfigSnapshot(ch *Chain) {
	if ch.Workspace == "" {
		return
	}
	writeWorkspaceJSON(filepath.Join(ch.Workspace, "config.json"), configSnapshot{
		ChainID:           ch.ChainID,
		ProjectID:         ch.ProjectID,
		UserPrompt:        ch.UserPrompt,
		MaxCycles:         ch.MaxCycles,
		AutopromptProfile: ch.AutopromptProfile,
		TraceID:           ch.TraceID,
		StartedAt:         ch.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func writeCycleFile(workspace string, cycle *Cycle) {
	if workspace == "" {
		return
	}
	name := fmt.Sprintf("cycle_%03d.json", cycle.CycleNumber)
	writeWorkspaceJSON(filepath.Join(workspace, name), cycle)
}

func writeResultFile(ch *Chain) {
	if ch.Workspace == "" {
		return
	}
	writeWorkspaceJSON(filepath.Join(ch.Workspace, "result.json"), ch)
}

func writeWorkspaceJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("Failed to encode workspace file", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("Failed to write workspace file", "path", path, "error", err)
	}
}
