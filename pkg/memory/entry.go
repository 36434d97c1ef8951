// Package memory is the content store shared across the mesh: entries carry
// confidence scores, TTL expiry, and explicit version lineage, persisted as
// append-only JSONL per project.
package memory

import "time"

// EntryType classifies stored content.
type EntryType string

// Entry types.
const (
	TypeFact     EntryType = "FACT"
	TypeDecision EntryType = "DECISION"
	TypeCode     EntryType = "CODE"
	TypeSummary  EntryType = "SUMMARY"
	TypeContext  EntryType = "CONTEXT"
	TypeTODO     EntryType = "TODO"
)

// IsValid returns true if the type is a known value.
func (t EntryType) IsValid() bool {
	switch t {
	case TypeFact, TypeDecision, TypeCode, TypeSummary, TypeContext, TypeTODO:
		return true
	}
	return false
}

// Entry is one stored memory. Mutations never edit an entry in place:
// updates append a successor with a bumped version, and confidence changes
// re-append the same id so the file can be reconciled by highest version,
// latest line.
type Entry struct {
	ID                string        `json:"id"`
	Content           string        `json:"content"`
	Type              EntryType     `json:"type"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Confidence        float64       `json:"confidence"`
	TTL               time.Duration `json:"ttl,omitempty"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	Version           int           `json:"version"`
	PreviousVersionID string        `json:"previous_version_id,omitempty"`
	SourceEndpoint    string        `json:"source_endpoint,omitempty"`
	ValidatedBy       []string      `json:"validated_by,omitempty"`
	Tags              []string      `json:"tags,omitempty"`
	Importance        float64       `json:"importance,omitempty"`
	ProjectID         string        `json:"project_id,omitempty"`
	Keywords          []string      `json:"keywords,omitempty"`
}

// Expired reports whether the entry's TTL has lapsed at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// validatedByContains reports whether callerID already validated the entry.
func (e *Entry) validatedByContains(callerID string) bool {
	for _, id := range e.ValidatedBy {
		if id == callerID {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand to callers.
func (e *Entry) clone() *Entry {
	out := *e
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	out.ValidatedBy = append([]string(nil), e.ValidatedBy...)
	out.Tags = append([]string(nil), e.Tags...)
	out.Keywords = append([]string(nil), e.Keywords...)
	return &out
}
