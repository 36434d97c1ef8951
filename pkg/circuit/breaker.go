// Package circuit provides per-endpoint circuit breakers with static
// fallback routing. Breakers protect the mesh from hammering unhealthy
// endpoints; the fallback map gives each endpoint one alternate to absorb
// traffic while its circuit is open.
package circuit

import "time"

// State is the health state of one breaker.
type State string

// Breaker states.
const (
	// StateClosed admits every call.
	StateClosed State = "CLOSED"
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen State = "OPEN"
	// StateHalfOpen admits a bounded number of concurrent probe calls.
	StateHalfOpen State = "HALF_OPEN"
)

// IsValid returns true if the state is a known value.
func (s State) IsValid() bool {
	switch s {
	case StateClosed, StateOpen, StateHalfOpen:
		return true
	}
	return false
}

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// closed circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while half-open and is the
	// success count required to close.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the built-in breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return c
}

// breaker holds the mutable health record for one endpoint. All access goes
// through the registry lock.
type breaker struct {
	cfg              Config
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	halfOpenInFlight int
	halfOpenSuccess  int
}

func newBreaker(cfg Config) *breaker {
	return &breaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// allow reports whether a call may proceed, reserving a probe slot when the
// breaker is half-open. Open breakers flip to half-open once the recovery
// timeout has elapsed since the last failure.
func (b *breaker) allow(now time.Time) bool {
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastFailureTime) < b.cfg.RecoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenInFlight = 1
		b.halfOpenSuccess = 0
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

func (b *breaker) recordSuccess(now time.Time) {
	b.lastSuccessTime = now
	b.successCount++

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxCalls {
			b.reset()
		}
	}
}

func (b *breaker) recordFailure(now time.Time) {
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenInFlight = 0
		b.halfOpenSuccess = 0
	case StateOpen:
		// Late failure from a call admitted before opening.
		b.failureCount++
	}
}

// reset returns the breaker to CLOSED with zeroed counters.
func (b *breaker) reset() {
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	b.halfOpenSuccess = 0
}

// Status is a point-in-time view of one breaker.
type Status struct {
	Endpoint        string    `json:"endpoint"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime time.Time `json:"last_success_time,omitempty"`
}
