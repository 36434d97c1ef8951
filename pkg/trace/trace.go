// Package trace tracks per-trace call chains so the mesh can refuse
// reentrant endpoint calls before they loop.
package trace

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxDepth caps the call-chain length per trace.
const DefaultMaxDepth = 10

// NewID returns a fresh trace identifier.
func NewID() string {
	return uuid.New().String()
}

// CycleDetector records the ordered chain of endpoints touched by each
// trace. A chain never contains the same endpoint twice and never exceeds
// maxDepth; violating additions are refused.
type CycleDetector struct {
	mu       sync.Mutex
	chains   map[string][]string
	maxDepth int
}

// NewCycleDetector creates a detector. maxDepth <= 0 selects DefaultMaxDepth.
func NewCycleDetector(maxDepth int) *CycleDetector {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &CycleDetector{
		chains:   make(map[string][]string),
		maxDepth: maxDepth,
	}
}

// AddToChain appends endpoint to the trace's chain. Returns false without
// modifying the chain when the endpoint is already present or the chain is
// at max depth.
func (d *CycleDetector) AddToChain(traceID, endpoint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	chain := d.chains[traceID]
	if len(chain) >= d.maxDepth {
		return false
	}
	for _, e := range chain {
		if e == endpoint {
			return false
		}
	}
	d.chains[traceID] = append(chain, endpoint)
	return true
}

// PopFromChain removes the most recent endpoint after its call completes.
// Empties remove the trace entry entirely.
func (d *CycleDetector) PopFromChain(traceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chain := d.chains[traceID]
	if len(chain) == 0 {
		return
	}
	chain = chain[:len(chain)-1]
	if len(chain) == 0 {
		delete(d.chains, traceID)
		return
	}
	d.chains[traceID] = chain
}

// EndChain discards all chain state for the trace.
func (d *CycleDetector) EndChain(traceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chains, traceID)
}

// ChainFor returns a copy of the trace's current chain, oldest first.
func (d *CycleDetector) ChainFor(traceID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	chain := d.chains[traceID]
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

// ActiveChains returns the number of traces with non-empty chains.
func (d *CycleDetector) ActiveChains() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chains)
}

// FormatChain renders a chain plus the refused endpoint for audit messages,
// e.g. "A -> B -> A".
func FormatChain(chain []string, refused string) string {
	return strings.Join(append(append([]string{}, chain...), refused), " -> ")
}
