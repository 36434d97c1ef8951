// Package ratelimit enforces per-endpoint request rates over a sliding
// 60-second window.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding-window span all limits are measured against.
const Window = 60 * time.Second

// DefaultLimit is the per-endpoint requests-per-minute limit used when no
// override is configured.
const DefaultLimit = 60

// Limiter tracks request timestamps per endpoint and admits a request only
// while the window holds fewer than the endpoint's limit.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limits  map[string]int
	def     int

	now func() time.Time
}

// NewLimiter creates a limiter with the given default requests-per-minute
// limit. defaultLimit <= 0 selects DefaultLimit.
func NewLimiter(defaultLimit int) *Limiter {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		limits:  make(map[string]int),
		def:     defaultLimit,
		now:     time.Now,
	}
}

// SetLimit overrides the limit for one endpoint.
func (l *Limiter) SetLimit(endpoint string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > 0 {
		l.limits[endpoint] = limit
	}
}

// Limit returns the effective limit for an endpoint.
func (l *Limiter) Limit(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(endpoint)
}

func (l *Limiter) limitLocked(endpoint string) int {
	if limit, ok := l.limits[endpoint]; ok {
		return limit
	}
	return l.def
}

// Admit purges stale entries and admits the request if the window is below
// the endpoint's limit, recording the request timestamp. Returns false when
// the window is full.
func (l *Limiter) Admit(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.purgeLocked(endpoint, now)
	if len(window) >= l.limitLocked(endpoint) {
		return false
	}
	l.windows[endpoint] = append(window, now)
	return true
}

// WaitTime reports how long until the oldest windowed request expires and a
// slot opens. Zero when the endpoint is below its limit.
func (l *Limiter) WaitTime(endpoint string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.purgeLocked(endpoint, now)
	if len(window) < l.limitLocked(endpoint) {
		return 0
	}
	return window[0].Add(Window).Sub(now)
}

// purgeLocked drops entries older than the window and returns the remainder.
// Caller holds the lock.
func (l *Limiter) purgeLocked(endpoint string, now time.Time) []time.Time {
	window := l.windows[endpoint]
	cutoff := now.Add(-Window)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		window = append([]time.Time(nil), window[i:]...)
		if len(window) == 0 {
			delete(l.windows, endpoint)
		} else {
			l.windows[endpoint] = window
		}
	}
	return window
}

// EndpointStatus is a point-in-time view of one endpoint's window.
type EndpointStatus struct {
	Endpoint  string  `json:"endpoint"`
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	WaitSecs  float64 `json:"wait_seconds"`
	Exhausted bool    `json:"exhausted"`
}

// Status snapshots all endpoints with active windows.
func (l *Limiter) Status() map[string]EndpointStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]EndpointStatus, len(l.windows))
	for endpoint := range l.windows {
		window := l.purgeLocked(endpoint, now)
		limit := l.limitLocked(endpoint)
		st := EndpointStatus{
			Endpoint:  endpoint,
			Used:      len(window),
			Limit:     limit,
			Exhausted: len(window) >= limit,
		}
		if st.Exhausted && len(window) > 0 {
			st.WaitSecs = window[0].Add(Window).Sub(now).Seconds()
		}
		out[endpoint] = st
	}
	return out
}
