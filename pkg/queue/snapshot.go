package queue

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshot is the on-disk queue state: every tracked command, terminal
// ones included, under one timestamp.
type snapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Commands  []*Command `json:"commands"`
}

// snapshotLocked serializes the full command set and replaces the state
// file atomically (write to a temp file, then rename). Persistence
// failures degrade durability but never abort in-flight work; they are
// logged and the queue continues in memory.
func (q *Queue) snapshotLocked() {
	if q.snapshotPath == "" {
		return
	}

	commands := make([]*Command, 0, len(q.byID))
	for _, cmd := range q.byID {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].CreatedAt.Before(commands[j].CreatedAt)
	})

	if err := writeSnapshot(q.snapshotPath, snapshot{
		Timestamp: q.now(),
		Commands:  commands,
	}); err != nil {
		slog.Error("Queue snapshot write failed", "path", q.snapshotPath, "error", err)
	}
}

func writeSnapshot(path string, snap snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// restore replays the snapshot file. Commands found RUNNING are reset to
// QUEUED with a warning; terminal commands stay queryable by id.
func (q *Queue) restore() error {
	if q.snapshotPath == "" {
		return nil
	}
	raw, err := os.ReadFile(q.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	requeued := 0
	for _, cmd := range snap.Commands {
		if cmd.Status == StatusRunning {
			slog.Warn("Command was running at shutdown, re-queueing",
				"command_id", cmd.ID, "type", cmd.Type, "assigned_agent", cmd.AssignedAgent)
			cmd.Status = StatusQueued
			cmd.AssignedAgent = ""
			cmd.StartedAt = time.Time{}
			requeued++
		}
		q.byID[cmd.ID] = cmd
		if cmd.Status == StatusQueued {
			heap.Push(&q.heap, cmd)
		}
	}
	if len(snap.Commands) > 0 {
		slog.Info("Queue state restored",
			"commands", len(snap.Commands), "queued", q.heap.Len(), "requeued", requeued)
	}
	return nil
}
