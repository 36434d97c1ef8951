package circuit

import (
	"log/slog"
	"sync"
	"time"
)

// Registry holds one breaker per endpoint, created lazily, plus the static
// fallback map. A single mutex guards all breaker transitions.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	overrides map[string]Config
	fallbacks map[string]string
	def       Config

	now func() time.Time
}

// NewRegistry creates a registry with the given default breaker config.
// Zero-valued fields of def fall back to DefaultConfig.
func NewRegistry(def Config) *Registry {
	return &Registry{
		breakers:  make(map[string]*breaker),
		overrides: make(map[string]Config),
		fallbacks: make(map[string]string),
		def:       def.withDefaults(),
		now:       time.Now,
	}
}

// Configure sets a per-endpoint breaker config. Takes effect on the next
// lazy creation; existing breakers keep their config until Reset.
func (r *Registry) Configure(endpoint string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[endpoint] = cfg.withDefaults()
	if b, ok := r.breakers[endpoint]; ok {
		b.cfg = cfg.withDefaults()
	}
}

// SetFallback registers an alternate for an endpoint. Pairs are usually
// symmetric (SetFallback(a, b); SetFallback(b, a)) but need not be.
func (r *Registry) SetFallback(endpoint, alternate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[endpoint] = alternate
}

// breakerLocked returns the endpoint's breaker, creating it on first use.
// Caller holds the lock.
func (r *Registry) breakerLocked(endpoint string) *breaker {
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	cfg := r.def
	if o, ok := r.overrides[endpoint]; ok {
		cfg = o
	}
	b := newBreaker(cfg)
	r.breakers[endpoint] = b
	return b
}

// Allow reports whether the endpoint's circuit admits a call right now.
// Half-open circuits reserve a probe slot, so every Allow that returns true
// must be balanced by RecordSuccess or RecordFailure.
func (r *Registry) Allow(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.breakerLocked(endpoint)
	prev := b.state
	admitted := b.allow(r.now())
	if b.state != prev {
		slog.Info("Circuit state changed",
			"endpoint", endpoint, "from", prev, "to", b.state)
	}
	return admitted
}

// Fallback resolves the endpoint's alternate and checks its availability,
// reserving a slot on the alternate's breaker when admitted. Returns
// ("", false) when no alternate is registered or the alternate is also
// unavailable.
func (r *Registry) Fallback(endpoint string) (string, bool) {
	r.mu.Lock()
	alternate, ok := r.fallbacks[endpoint]
	r.mu.Unlock()
	if !ok || alternate == "" || alternate == endpoint {
		return "", false
	}
	if !r.Allow(alternate) {
		return "", false
	}
	return alternate, true
}

// RecordSuccess notes a successful call against the endpoint's breaker.
func (r *Registry) RecordSuccess(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.breakerLocked(endpoint)
	prev := b.state
	b.recordSuccess(r.now())
	if b.state != prev {
		slog.Info("Circuit closed after recovery", "endpoint", endpoint)
	}
}

// RecordFailure notes a failed call against the endpoint's breaker.
func (r *Registry) RecordFailure(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.breakerLocked(endpoint)
	prev := b.state
	b.recordFailure(r.now())
	if b.state != prev {
		slog.Warn("Circuit opened",
			"endpoint", endpoint, "failure_count", b.failureCount)
	}
}

// State returns the endpoint's current state without reserving anything.
// Endpoints never seen report CLOSED.
func (r *Registry) State(endpoint string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b.state
	}
	return StateClosed
}

// Reset returns one endpoint's breaker to CLOSED with zeroed counters.
func (r *Registry) Reset(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerLocked(endpoint).reset()
}

// ResetAll resets every known breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.reset()
	}
}

// StatusAll snapshots every known breaker for the ops surface.
func (r *Registry) StatusAll() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.breakers))
	for endpoint, b := range r.breakers {
		out[endpoint] = Status{
			Endpoint:        endpoint,
			State:           b.state,
			FailureCount:    b.failureCount,
			SuccessCount:    b.successCount,
			LastFailureTime: b.lastFailureTime,
			LastSuccessTime: b.lastSuccessTime,
		}
	}
	return out
}
