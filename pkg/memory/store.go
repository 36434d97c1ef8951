package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Confidence adjustment steps.
const (
	validationBoost    = 0.05
	invalidationPenalty = 0.10
)

// DefaultMaxEntries bounds the in-memory store.
const DefaultMaxEntries = 10000

// defaultProject names the JSONL file for entries without a project id.
const defaultProject = "default"

var (
	// ErrNotFound is returned when no entry has the requested id.
	ErrNotFound = errors.New("memory entry not found")
	// ErrInvalidInput is returned when a mutation carries invalid fields.
	ErrInvalidInput = errors.New("invalid memory input")
)

// Config tunes the store.
type Config struct {
	// Dir is where per-project JSONL files live.
	Dir string
	// MaxEntries bounds the in-memory entry count. Default 10000.
	MaxEntries int
}

// Store holds entries by id with secondary indexes by project and tag.
// One mutex guards the maps and the disk append so each mutation is a
// single O(1) write.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	byProject  map[string]map[string]bool
	byTag      map[string]map[string]bool
	successors map[string]string // entry id → id of the version that replaced it
	maxEntries int
	files      *projectFiles

	now func() time.Time
}

// NewStore creates the store and rehydrates all non-expired entries from
// the directory's JSONL files.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	files, err := newProjectFiles(cfg.Dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		entries:    make(map[string]*Entry),
		byProject:  make(map[string]map[string]bool),
		byTag:      make(map[string]map[string]bool),
		successors: make(map[string]string),
		maxEntries: cfg.MaxEntries,
		files:      files,
		now:        time.Now,
	}
	if err := s.rehydrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreInput carries the fields for a new entry.
type StoreInput struct {
	Content        string
	Type           EntryType
	Confidence     float64
	TTL            time.Duration
	Tags           []string
	Importance     float64
	ProjectID      string
	Keywords       []string
	SourceEndpoint string
}

// Store appends a new version-1 entry.
func (s *Store) Store(in StoreInput) (*Entry, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content required", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = TypeFact
	}
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}

	now := s.now().UTC()
	e := &Entry{
		ID:             uuid.New().String(),
		Content:        in.Content,
		Type:           in.Type,
		CreatedAt:      now,
		UpdatedAt:      now,
		Confidence:     clampConfidence(in.Confidence),
		TTL:            in.TTL,
		Version:        1,
		SourceEndpoint: in.SourceEndpoint,
		Tags:           append([]string(nil), in.Tags...),
		Importance:     in.Importance,
		ProjectID:      in.ProjectID,
		Keywords:       append([]string(nil), in.Keywords...),
	}
	if in.TTL > 0 {
		exp := now.Add(in.TTL)
		e.ExpiresAt = &exp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(e)
	s.persistLocked(e)
	return e.clone(), nil
}

// Get returns the entry by id, expired or not.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// UpdateInput carries the mutable fields for an update. Nil/zero fields
// keep the prior version's value.
type UpdateInput struct {
	Content    string
	Confidence *float64
	Tags       []string
	Keywords   []string
	Importance *float64
}

// Update appends a successor entry with a bumped version and
// PreviousVersionID pointing at the prior head. The prior entry stays
// intact and drops out of ordinary recall.
func (s *Store) Update(id string, in UpdateInput) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, superseded := s.successors[id]; superseded {
		return nil, fmt.Errorf("%w: %s already superseded", ErrInvalidInput, id)
	}

	now := s.now().UTC()
	succ := old.clone()
	succ.ID = uuid.New().String()
	succ.Version = old.Version + 1
	succ.PreviousVersionID = old.ID
	succ.CreatedAt = now
	succ.UpdatedAt = now
	succ.ValidatedBy = nil
	if old.TTL > 0 {
		exp := now.Add(old.TTL)
		succ.ExpiresAt = &exp
	}
	if in.Content != "" {
		succ.Content = in.Content
	}
	if in.Confidence != nil {
		succ.Confidence = clampConfidence(*in.Confidence)
	}
	if in.Tags != nil {
		succ.Tags = append([]string(nil), in.Tags...)
	}
	if in.Keywords != nil {
		succ.Keywords = append([]string(nil), in.Keywords...)
	}
	if in.Importance != nil {
		succ.Importance = *in.Importance
	}

	s.insertLocked(succ)
	s.successors[old.ID] = succ.ID
	s.persistLocked(succ)
	return succ.clone(), nil
}

// Validate records that callerID vouches for the entry, raising confidence
// by 0.05 (capped at 1.0). Idempotent per caller.
func (s *Store) Validate(id, callerID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.validatedByContains(callerID) {
		return e.clone(), nil
	}
	e.ValidatedBy = append(e.ValidatedBy, callerID)
	e.Confidence = clampConfidence(e.Confidence + validationBoost)
	e.UpdatedAt = s.now().UTC()
	s.persistLocked(e)
	return e.clone(), nil
}

// Invalidate lowers the entry's confidence by 0.10 (floored at 0.0).
func (s *Store) Invalidate(id, callerID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Confidence = clampConfidence(e.Confidence - invalidationPenalty)
	e.UpdatedAt = s.now().UTC()
	s.persistLocked(e)
	_ = callerID // recorded in the caller's audit entry, not on the entry itself
	return e.clone(), nil
}

// History returns the version lineage containing id, newest first.
func (s *Store) History(id string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.entries[id]
	if !ok {
		return nil
	}
	// Walk forward to the head of the chain.
	for {
		succID, superseded := s.successors[head.ID]
		if !superseded {
			break
		}
		succ, ok := s.entries[succID]
		if !ok {
			break
		}
		head = succ
	}
	// Then back through the lineage.
	var out []*Entry
	for e := head; e != nil; {
		out = append(out, e.clone())
		if e.PreviousVersionID == "" {
			break
		}
		e = s.entries[e.PreviousVersionID]
	}
	return out
}

// Query filters recall results. Zero fields are ignored.
type Query struct {
	Text           string
	Type           EntryType
	ProjectID      string
	MinConfidence  float64
	MaxAge         time.Duration
	Tags           []string
	IncludeExpired bool
	Limit          int
}

// Recall returns current (head, non-expired unless requested) entries
// matching the query, sorted by confidence descending then updated-at
// descending, truncated to Limit.
func (s *Store) Recall(q Query) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var out []*Entry
	for id, e := range s.entries {
		if _, superseded := s.successors[id]; superseded {
			continue
		}
		if !q.IncludeExpired && e.Expired(now) {
			continue
		}
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if q.ProjectID != "" && e.ProjectID != q.ProjectID {
			continue
		}
		if e.Confidence < q.MinConfidence {
			continue
		}
		if q.MaxAge > 0 && now.Sub(e.UpdatedAt) > q.MaxAge {
			continue
		}
		if !matchesTags(e, q.Tags) {
			continue
		}
		if !matchesText(e, q.Text) {
			continue
		}
		out = append(out, e.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// SweepExpired drops expired entries from memory, returning the count.
// Files are append-only and keep their history.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	removed := 0
	for id, e := range s.entries {
		if e.Expired(now) {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Len returns the in-memory entry count, including superseded versions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close closes the per-project files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files.Close()
}

func (s *Store) insertLocked(e *Entry) {
	s.entries[e.ID] = e
	project := projectOrDefault(e.ProjectID)
	if s.byProject[project] == nil {
		s.byProject[project] = make(map[string]bool)
	}
	s.byProject[project][e.ID] = true
	for _, tag := range e.Tags {
		if s.byTag[tag] == nil {
			s.byTag[tag] = make(map[string]bool)
		}
		s.byTag[tag][e.ID] = true
	}
	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}
}

func (s *Store) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	delete(s.successors, id)
	project := projectOrDefault(e.ProjectID)
	if ids := s.byProject[project]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byProject, project)
		}
	}
	for _, tag := range e.Tags {
		if ids := s.byTag[tag]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byTag, tag)
			}
		}
	}
}

// evictLocked enforces maxEntries: expired entries go first, then the
// oldest by updated-at.
func (s *Store) evictLocked() {
	now := s.now().UTC()
	for id, e := range s.entries {
		if len(s.entries) <= s.maxEntries {
			return
		}
		if e.Expired(now) {
			s.removeLocked(id)
		}
	}
	for len(s.entries) > s.maxEntries {
		var oldestID string
		var oldest time.Time
		for id, e := range s.entries {
			if oldestID == "" || e.UpdatedAt.Before(oldest) {
				oldestID = id
				oldest = e.UpdatedAt
			}
		}
		if oldestID == "" {
			return
		}
		s.removeLocked(oldestID)
		slog.Debug("Memory entry evicted", "entry_id", oldestID)
	}
}

// persistLocked appends the entry to its project file. Write failures are
// logged and do not fail the mutation.
func (s *Store) persistLocked(e *Entry) {
	if err := s.files.Append(projectOrDefault(e.ProjectID), e); err != nil {
		slog.Error("Memory persistence failed, continuing in-memory only",
			"entry_id", e.ID, "error", err)
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func projectOrDefault(project string) string {
	if project == "" {
		return defaultProject
	}
	return project
}

func matchesTags(e *Entry, tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range e.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesText(e *Entry, text string) bool {
	if text == "" {
		return true
	}
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(e.Content), needle) {
		return true
	}
	for _, kw := range e.Keywords {
		if strings.Contains(strings.ToLower(kw), needle) {
			return true
		}
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
