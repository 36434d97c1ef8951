package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EndpointConfig defines one LLM endpoint the hub can route to.
type EndpointConfig struct {
	// Provider type (required)
	Type ProviderType `yaml:"type"`

	// Model name (required)
	Model string `yaml:"model"`

	// Optional custom base URL. Required for OpenAI-compatible vendors
	// other than OpenAI itself, and for local servers.
	BaseURL string `yaml:"base_url,omitempty"`

	// Environment variable name holding the API key. Local endpoints
	// may leave it empty.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Capabilities this endpoint is suited for. Used by task routing.
	Capabilities []Capability `yaml:"capabilities,omitempty"`

	// RateLimit is requests per minute. Zero means the mesh default.
	RateLimit int `yaml:"rate_limit,omitempty"`

	// Fallback names the endpoint to try when this one's circuit opens.
	Fallback string `yaml:"fallback,omitempty"`

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Temperature overrides the provider default when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Timeout bounds a single upstream call. Zero means the mesh
	// default.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Disabled endpoints stay registered but refuse calls.
	Disabled bool `yaml:"disabled,omitempty"`
}

// HasCapability reports whether the endpoint declares the capability.
func (e *EndpointConfig) HasCapability(c Capability) bool {
	for _, have := range e.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// EndpointRegistry stores endpoint configurations in memory with
// thread-safe access
type EndpointRegistry struct {
	endpoints map[string]*EndpointConfig
	mu        sync.RWMutex
}

// NewEndpointRegistry creates a new endpoint registry
func NewEndpointRegistry(endpoints map[string]*EndpointConfig) *EndpointRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*EndpointConfig, len(endpoints))
	for k, v := range endpoints {
		copied[k] = v
	}
	return &EndpointRegistry{
		endpoints: copied,
	}
}

// Get retrieves an endpoint configuration by name (thread-safe)
func (r *EndpointRegistry) Get(name string) (*EndpointConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.endpoints[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}
	return ep, nil
}

// GetAll returns all endpoint configurations (thread-safe, returns copy)
func (r *EndpointRegistry) GetAll() map[string]*EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		result[k] = v
	}
	return result
}

// Has checks if an endpoint exists in the registry (thread-safe)
func (r *EndpointRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.endpoints[name]
	return exists
}

// Len returns the number of endpoints in the registry (thread-safe)
func (r *EndpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Names returns a sorted list of all endpoint names.
func (r *EndpointRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCapability returns the sorted names of enabled endpoints declaring
// the capability.
func (r *EndpointRegistry) ByCapability(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, ep := range r.endpoints {
		if ep.Disabled {
			continue
		}
		if ep.HasCapability(c) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Enabled returns the sorted names of endpoints not marked disabled.
func (r *EndpointRegistry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, ep := range r.endpoints {
		if !ep.Disabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
