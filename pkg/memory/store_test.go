package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store(StoreInput{
		Content:    "deploy uses blue/green rollout",
		Type:       TypeDecision,
		Confidence: 0.8,
		Tags:       []string{"deploy", "infra"},
		ProjectID:  "alpha",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, TypeDecision, e.Type)
	assert.Nil(t, e.ExpiresAt)

	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e.Content, got.Content)
	assert.Equal(t, e.Confidence, got.Confidence)
}

func TestStoreDefaultsAndValidation(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store(StoreInput{Content: "plain fact", Confidence: 1.7})
	require.NoError(t, err)
	assert.Equal(t, TypeFact, e.Type)
	assert.Equal(t, 1.0, e.Confidence, "confidence clamps to 1.0")

	_, err = s.Store(StoreInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Store(StoreInput{Content: "x", Type: EntryType("BOGUS")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreTTLSetsExpiry(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	e, err := s.Store(StoreInput{Content: "ephemeral", TTL: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, base.Add(time.Hour), *e.ExpiresAt)
}

func TestRecallFilters(t *testing.T) {
	s := newTestStore(t)

	mustStore := func(in StoreInput) *Entry {
		e, err := s.Store(in)
		require.NoError(t, err)
		return e
	}

	mustStore(StoreInput{Content: "redis runs on port 6380", Type: TypeFact,
		Confidence: 0.9, ProjectID: "alpha", Tags: []string{"redis", "infra"}})
	mustStore(StoreInput{Content: "use exponential backoff", Type: TypeDecision,
		Confidence: 0.7, ProjectID: "alpha", Tags: []string{"infra"}})
	mustStore(StoreInput{Content: "beta uses postgres", Type: TypeFact,
		Confidence: 0.8, ProjectID: "beta", Keywords: []string{"database"}})

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"all", Query{}, 3},
		{"by type", Query{Type: TypeDecision}, 1},
		{"by project", Query{ProjectID: "alpha"}, 2},
		{"min confidence", Query{MinConfidence: 0.75}, 2},
		{"tags are ANDed", Query{Tags: []string{"redis", "infra"}}, 1},
		{"single tag", Query{Tags: []string{"infra"}}, 2},
		{"text in content", Query{Text: "redis"}, 1},
		{"text in keywords", Query{Text: "database"}, 1},
		{"text case insensitive", Query{Text: "POSTGRES"}, 1},
		{"no match", Query{Text: "kafka"}, 0},
		{"limit", Query{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, s.Recall(tt.q), tt.want)
		})
	}
}

func TestRecallOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	low, err := s.Store(StoreInput{Content: "low", Confidence: 0.3})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	older, err := s.Store(StoreInput{Content: "high older", Confidence: 0.9})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	newer, err := s.Store(StoreInput{Content: "high newer", Confidence: 0.9})
	require.NoError(t, err)

	got := s.Recall(Query{})
	require.Len(t, got, 3)
	assert.Equal(t, newer.ID, got[0].ID, "ties break by updated-at, newest first")
	assert.Equal(t, older.ID, got[1].ID)
	assert.Equal(t, low.ID, got[2].ID)
}

func TestRecallExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	expiring, err := s.Store(StoreInput{Content: "short lived", TTL: time.Minute})
	require.NoError(t, err)
	_, err = s.Store(StoreInput{Content: "durable"})
	require.NoError(t, err)

	clock = base.Add(2 * time.Minute)

	got := s.Recall(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, "durable", got[0].Content)

	withExpired := s.Recall(Query{IncludeExpired: true})
	assert.Len(t, withExpired, 2)

	// Expired entries stay retrievable by id until swept.
	_, ok := s.Get(expiring.ID)
	assert.True(t, ok)
}

func TestUpdateCreatesNewVersion(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.Store(StoreInput{Content: "port is 6379", Confidence: 0.8})
	require.NoError(t, err)

	v2, err := s.Update(v1.ID, UpdateInput{Content: "port is 6380"})
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.PreviousVersionID)
	assert.Equal(t, "port is 6380", v2.Content)
	assert.Equal(t, v1.Confidence, v2.Confidence, "unset fields carry over")

	// The old version stays intact and retrievable.
	old, ok := s.Get(v1.ID)
	require.True(t, ok)
	assert.Equal(t, "port is 6379", old.Content)

	// But recall only surfaces the head.
	got := s.Recall(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, v2.ID, got[0].ID)

	// A superseded version cannot be updated again.
	_, err = s.Update(v1.ID, UpdateInput{Content: "stale write"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Update("no-such-id", UpdateInput{Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateBoostsConfidence(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store(StoreInput{Content: "fact", Confidence: 0.5})
	require.NoError(t, err)

	v, err := s.Validate(e.ID, "claude")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, v.Confidence, 1e-9)
	assert.Equal(t, []string{"claude"}, v.ValidatedBy)

	// Same caller again is a no-op.
	v, err = s.Validate(e.ID, "claude")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, v.Confidence, 1e-9)
	assert.Len(t, v.ValidatedBy, 1)

	// A different caller boosts again.
	v, err = s.Validate(e.ID, "gemini")
	require.NoError(t, err)
	assert.InDelta(t, 0.60, v.Confidence, 1e-9)
	assert.Len(t, v.ValidatedBy, 2)
}

func TestValidateCapsAtOne(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store(StoreInput{Content: "fact", Confidence: 0.98})
	require.NoError(t, err)

	v, err := s.Validate(e.ID, "claude")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Confidence)
}

func TestInvalidateLowersConfidence(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Store(StoreInput{Content: "fact", Confidence: 0.15})
	require.NoError(t, err)

	v, err := s.Invalidate(e.ID, "gemini")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, v.Confidence, 1e-9)

	v, err = s.Invalidate(e.ID, "gemini")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Confidence, "confidence floors at zero")

	_, err = s.Invalidate("no-such-id", "gemini")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryWalksLineage(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.Store(StoreInput{Content: "v1"})
	require.NoError(t, err)
	v2, err := s.Update(v1.ID, UpdateInput{Content: "v2"})
	require.NoError(t, err)
	v3, err := s.Update(v2.ID, UpdateInput{Content: "v3"})
	require.NoError(t, err)

	// History is the same regardless of which version id is asked about.
	for _, id := range []string{v1.ID, v2.ID, v3.ID} {
		h := s.History(id)
		require.Len(t, h, 3)
		assert.Equal(t, "v3", h[0].Content)
		assert.Equal(t, "v2", h[1].Content)
		assert.Equal(t, "v1", h[2].Content)
	}

	assert.Nil(t, s.History("no-such-id"))
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	_, err := s.Store(StoreInput{Content: "short", TTL: time.Minute})
	require.NoError(t, err)
	keep, err := s.Store(StoreInput{Content: "keep"})
	require.NoError(t, err)

	assert.Equal(t, 0, s.SweepExpired(), "nothing expired yet")

	clock = base.Add(2 * time.Minute)
	assert.Equal(t, 1, s.SweepExpired())
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get(keep.ID)
	assert.True(t, ok)
}

func TestRehydrateFromDisk(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)

	e, err := s1.Store(StoreInput{Content: "persisted", Confidence: 0.5, ProjectID: "alpha"})
	require.NoError(t, err)
	_, err = s1.Validate(e.ID, "claude")
	require.NoError(t, err)
	v2, err := s1.Update(e.ID, UpdateInput{Content: "persisted v2"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)
	defer s2.Close()

	// The validated confidence came back because the later line wins.
	got, ok := s2.Get(e.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.55, got.Confidence, 1e-9)
	assert.Equal(t, []string{"claude"}, got.ValidatedBy)

	// Recall surfaces only the head version, as before the restart.
	heads := s2.Recall(Query{})
	require.Len(t, heads, 1)
	assert.Equal(t, v2.ID, heads[0].ID)

	// And the lineage survived.
	h := s2.History(e.ID)
	require.Len(t, h, 2)
	assert.Equal(t, "persisted v2", h[0].Content)
}

func TestRehydrateDropsExpired(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s1, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)
	s1.now = func() time.Time { return base }

	_, err = s1.Store(StoreInput{Content: "short lived", TTL: time.Minute})
	require.NoError(t, err)
	durable, err := s1.Store(StoreInput{Content: "durable"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 1, s2.Len())
	_, ok := s2.Get(durable.ID)
	assert.True(t, ok)
}

func TestRehydrateSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)
	good, err := s1.Store(StoreInput{Content: "good"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	path := s1.files.path(defaultProject)
	corruptAppend(t, path, "{not json\n")

	s2, err := NewStore(Config{Dir: dir})
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 1, s2.Len())
	_, ok := s2.Get(good.ID)
	assert.True(t, ok)
}

func TestEvictionPrefersExpiredThenOldest(t *testing.T) {
	s, err := NewStore(Config{Dir: t.TempDir(), MaxEntries: 3})
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	expired, err := s.Store(StoreInput{Content: "expired", TTL: time.Minute})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	oldest, err := s.Store(StoreInput{Content: "oldest"})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = s.Store(StoreInput{Content: "middle"})
	require.NoError(t, err)

	// Expired entry goes first when the fourth insert overflows the cap.
	clock = clock.Add(time.Minute)
	_, err = s.Store(StoreInput{Content: "fourth"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	_, ok := s.Get(expired.ID)
	assert.False(t, ok)
	_, ok = s.Get(oldest.ID)
	assert.True(t, ok)

	// With nothing expired the oldest entry is evicted next.
	clock = clock.Add(time.Minute)
	_, err = s.Store(StoreInput{Content: "fifth"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	_, ok = s.Get(oldest.ID)
	assert.False(t, ok)
}

func TestEntryTypeIsValid(t *testing.T) {
	valid := []EntryType{TypeFact, TypeDecision, TypeCode, TypeSummary, TypeContext, TypeTODO}
	for _, et := range valid {
		assert.True(t, et.IsValid(), string(et))
	}
	assert.False(t, EntryType("").IsValid())
	assert.False(t, EntryType("fact").IsValid(), "types are uppercase")
}
