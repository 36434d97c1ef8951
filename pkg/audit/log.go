package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config tunes the audit log.
type Config struct {
	// Dir is where daily JSONL files are written.
	Dir string
	// RingSize bounds the in-memory ring. Default 1000.
	RingSize int
	// FlushThreshold batches this many entries before a disk write. Default 100.
	FlushThreshold int
}

const (
	defaultRingSize       = 1000
	defaultFlushThreshold = 100
	fileDateLayout        = "2006-01-02"
)

// SubscriberFunc receives one marshaled entry per delivery. Returning an
// error removes the subscriber. Implementations must not block; slow
// consumers should buffer internally and fail fast when full.
type SubscriberFunc func(line []byte) error

// Log is the append-only audit event stream: a bounded ring for queries,
// daily-rotated JSONL files for persistence, and subscriber fan-out for
// live streaming. One mutex guards the ring, the subscriber set, and file
// writes so batches stay coherent.
type Log struct {
	mu          sync.Mutex
	dir         string
	ring        []Entry
	ringStart   int
	ringSize    int
	pending     []Entry
	flushEvery  int
	subscribers map[string]SubscriberFunc
	file        *os.File
	fileDate    string
	appended    func(Level)

	now func() time.Time
}

// New creates the audit log, creating Dir if needed.
func New(cfg Config) (*Log, error) {
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = defaultFlushThreshold
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &Log{
		dir:         cfg.Dir,
		ring:        make([]Entry, 0, cfg.RingSize),
		ringSize:    cfg.RingSize,
		flushEvery:  cfg.FlushThreshold,
		subscribers: make(map[string]SubscriberFunc),
		now:         time.Now,
	}, nil
}

// OnAppend registers a hook called with each appended entry's level, used
// for metrics. Must be set before concurrent use.
func (l *Log) OnAppend(fn func(Level)) { l.appended = fn }

// Record appends one entry: timestamps it if needed, sanitizes params,
// stores it in the ring, batches it for disk, and fans it out to
// subscribers. Entries are immutable once recorded.
func (l *Log) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.nowUTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.Params = SanitizeParams(e.Params)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.appendRingLocked(e)
	l.pending = append(l.pending, e)
	if len(l.pending) >= l.flushEvery {
		l.flushLocked()
	}
	l.broadcastLocked(e)

	if l.appended != nil {
		l.appended(e.Level)
	}
}

func (l *Log) nowUTC() time.Time {
	return l.now().UTC()
}

// appendRingLocked stores the entry, overwriting the oldest once full.
func (l *Log) appendRingLocked(e Entry) {
	if len(l.ring) < l.ringSize {
		l.ring = append(l.ring, e)
		return
	}
	l.ring[l.ringStart] = e
	l.ringStart = (l.ringStart + 1) % l.ringSize
}

// snapshotLocked returns ring entries oldest first.
func (l *Log) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(l.ring))
	out = append(out, l.ring[l.ringStart:]...)
	out = append(out, l.ring[:l.ringStart]...)
	return out
}

// broadcastLocked delivers the entry to every subscriber, removing those
// whose delivery fails.
func (l *Log) broadcastLocked(e Entry) {
	if len(l.subscribers) == 0 {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		slog.Error("Audit entry marshal failed, skipping broadcast", "error", err)
		return
	}
	var failed []string
	for id, fn := range l.subscribers {
		if err := fn(line); err != nil {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		delete(l.subscribers, id)
		slog.Warn("Audit subscriber dropped after failed delivery", "subscriber_id", id)
	}
}

// Subscribe registers a live-stream subscriber. Replaces any existing
// subscriber with the same id.
func (l *Log) Subscribe(id string, fn SubscriberFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers[id] = fn
}

// Unsubscribe removes a subscriber.
func (l *Log) Unsubscribe(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subscribers, id)
}

// SubscriberCount returns the current subscriber count.
func (l *Log) SubscriberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribers)
}

// Flush forces pending entries to disk.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

// flushLocked writes pending entries to the daily file, rotating when an
// entry's UTC date differs from the open file's. A write failure logs and
// drops the batch; the log keeps running with degraded durability.
func (l *Log) flushLocked() {
	if len(l.pending) == 0 {
		return
	}
	for _, e := range l.pending {
		date := e.Timestamp.UTC().Format(fileDateLayout)
		if err := l.ensureFileLocked(date); err != nil {
			slog.Error("Audit file rotation failed, dropping batch",
				"date", date, "dropped", len(l.pending), "error", err)
			l.pending = l.pending[:0]
			return
		}
		line, err := json.Marshal(e)
		if err != nil {
			slog.Error("Audit entry marshal failed, entry dropped", "error", err)
			continue
		}
		if _, err := l.file.Write(append(line, '\n')); err != nil {
			slog.Error("Audit file write failed, dropping batch",
				"dropped", len(l.pending), "error", err)
			l.pending = l.pending[:0]
			return
		}
	}
	l.pending = l.pending[:0]
}

func (l *Log) ensureFileLocked(date string) error {
	if l.file != nil && l.fileDate == date {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	f, err := os.OpenFile(l.filePath(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.fileDate = date
	return nil
}

func (l *Log) filePath(date string) string {
	return filepath.Join(l.dir, "audit_"+date+".jsonl")
}

// Close flushes pending entries and closes the current file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterNewestFirst(l.snapshotLocked(), n, func(Entry) bool { return true })
}

// ByTrace returns all ring entries for a trace id, oldest first.
func (l *Log) ByTrace(traceID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.snapshotLocked() {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// ByCaller returns all ring entries for a caller id, oldest first.
func (l *Log) ByCaller(callerID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.snapshotLocked() {
		if e.CallerID == callerID {
			out = append(out, e)
		}
	}
	return out
}

// SecurityEvents returns up to n SECURITY entries, newest first.
func (l *Log) SecurityEvents(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterNewestFirst(l.snapshotLocked(), n, func(e Entry) bool {
		return e.Level == LevelSecurity
	})
}

// Errors returns up to n ERROR/CRITICAL entries, newest first.
func (l *Log) Errors(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterNewestFirst(l.snapshotLocked(), n, func(e Entry) bool {
		return e.Level == LevelError || e.Level == LevelCritical
	})
}

func filterNewestFirst(entries []Entry, n int, keep func(Entry) bool) []Entry {
	var out []Entry
	for i := len(entries) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if keep(entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}

// ReadDate reloads all entries recorded on a given UTC date (YYYY-MM-DD)
// from its archived file, oldest first. Pending entries are flushed first
// so the current day's file is complete.
func (l *Log) ReadDate(date string) ([]Entry, error) {
	if _, err := time.Parse(fileDateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	l.Flush()

	f, err := os.Open(l.filePath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping malformed audit line", "date", date, "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("reading audit file: %w", err)
	}
	return out, nil
}
