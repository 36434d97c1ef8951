package config

import (
	"fmt"
	"sort"
	"sync"
)

// ProfileRegistry stores autoprompt profiles in memory with thread-safe
// access
type ProfileRegistry struct {
	profiles map[string]*ProfileConfig
	mu       sync.RWMutex
}

// NewProfileRegistry creates a new profile registry
func NewProfileRegistry(profiles map[string]*ProfileConfig) *ProfileRegistry {
	copied := make(map[string]*ProfileConfig, len(profiles))
	for k, v := range profiles {
		copied[k] = v
	}
	return &ProfileRegistry{
		profiles: copied,
	}
}

// Get retrieves a profile by name (thread-safe)
func (r *ProfileRegistry) Get(name string) (*ProfileConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.profiles[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// GetAll returns all profiles (thread-safe, returns copy)
func (r *ProfileRegistry) GetAll() map[string]*ProfileConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ProfileConfig, len(r.profiles))
	for k, v := range r.profiles {
		result[k] = v
	}
	return result
}

// Has checks if a profile exists in the registry (thread-safe)
func (r *ProfileRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.profiles[name]
	return exists
}

// Len returns the number of profiles in the registry (thread-safe)
func (r *ProfileRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Names returns a sorted list of all profile names.
func (r *ProfileRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
