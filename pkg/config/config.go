package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)
	dataDir   string // Resolved data directory

	// Resolved sub-configurations
	Server *ServerConfig
	Audit  *AuditConfig
	Memory *MemoryConfig
	Queue  *QueueConfig
	Chains *ChainConfig
	Mesh   *MeshConfig

	// Caller id → role name assignments
	Roles map[string]string

	// Component registries
	EndpointRegistry *EndpointRegistry
	ProfileRegistry  *ProfileRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Endpoints int
	Profiles  int
	Roles     int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{Roles: len(c.Roles)}
	if c.EndpointRegistry != nil {
		s.Endpoints = c.EndpointRegistry.Len()
	}
	if c.ProfileRegistry != nil {
		s.Profiles = c.ProfileRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// DataDir returns the resolved data directory path
func (c *Config) DataDir() string {
	return c.dataDir
}

// GetEndpoint retrieves an endpoint configuration by name.
// This is a convenience method that wraps EndpointRegistry.Get().
func (c *Config) GetEndpoint(name string) (*EndpointConfig, error) {
	return c.EndpointRegistry.Get(name)
}

// GetProfile retrieves an autoprompt profile by name.
// This is a convenience method that wraps ProfileRegistry.Get().
func (c *Config) GetProfile(name string) (*ProfileConfig, error) {
	return c.ProfileRegistry.Get(name)
}

// EndpointNames returns a sorted list of all configured endpoint names.
func (c *Config) EndpointNames() []string {
	return c.EndpointRegistry.Names()
}
