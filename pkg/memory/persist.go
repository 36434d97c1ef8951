package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxLineBytes bounds a single JSONL line on rehydration.
const maxLineBytes = 4 * 1024 * 1024

// projectFiles manages one append-only JSONL file per project. Handles are
// opened lazily and cached. Callers serialize access through the store
// mutex.
type projectFiles struct {
	dir   string
	files map[string]*os.File
}

func newProjectFiles(dir string) (*projectFiles, error) {
	if dir == "" {
		return nil, fmt.Errorf("memory dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory dir: %w", err)
	}
	return &projectFiles{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append writes the entry as one JSON line to the project's file.
func (p *projectFiles) Append(project string, e *Entry) error {
	f, err := p.handle(project)
	if err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", e.ID, err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to %s: %w", project, err)
	}
	return nil
}

func (p *projectFiles) handle(project string) (*os.File, error) {
	if f, ok := p.files[project]; ok {
		return f, nil
	}
	f, err := os.OpenFile(p.path(project), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening memory file for %s: %w", project, err)
	}
	p.files[project] = f
	return f, nil
}

func (p *projectFiles) path(project string) string {
	return filepath.Join(p.dir, "memory_"+sanitizeProject(project)+".jsonl")
}

// Close closes every cached handle, returning the first error.
func (p *projectFiles) Close() error {
	var first error
	for project, f := range p.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing memory file for %s: %w", project, err)
		}
		delete(p.files, project)
	}
	return first
}

// sanitizeProject keeps project ids filesystem safe.
func sanitizeProject(project string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, project)
}

// rehydrate loads all memory_*.jsonl files in the directory. Later lines
// for the same id win (validations and invalidations re-append the same
// id), expired entries are dropped, and malformed lines are skipped with
// a warning.
func (s *Store) rehydrate() error {
	matches, err := filepath.Glob(filepath.Join(s.files.dir, "memory_*.jsonl"))
	if err != nil {
		return fmt.Errorf("scanning memory dir: %w", err)
	}

	now := s.now().UTC()
	loaded := 0
	for _, path := range matches {
		n, err := s.loadFile(path, now)
		if err != nil {
			return err
		}
		loaded += n
	}
	if loaded > 0 {
		slog.Info("Memory store rehydrated", "entries", loaded, "files", len(matches))
	}
	return nil
}

func (s *Store) loadFile(path string, now time.Time) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	latest := make(map[string]*Entry)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping malformed memory line",
				"file", filepath.Base(path), "line", lineNo, "error", err)
			continue
		}
		if e.ID == "" {
			continue
		}
		if _, seen := latest[e.ID]; !seen {
			order = append(order, e.ID)
		}
		latest[e.ID] = &e
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	loaded := 0
	for _, id := range order {
		e := latest[id]
		if e.Expired(now) {
			continue
		}
		s.insertLocked(e)
		if e.PreviousVersionID != "" {
			s.successors[e.PreviousVersionID] = e.ID
		}
		loaded++
	}
	return loaded, nil
}
