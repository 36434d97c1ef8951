package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir (both optional; built-ins cover a
//     zero-config start)
//  2. Expand environment variables
//  3. Merge built-in + user-defined endpoints, profiles, and roles
//  4. Merge user sub-configs over built-in defaults
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"endpoints", stats.Endpoints,
		"profiles", stats.Profiles,
		"roles", stats.Roles)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load polyhub.yaml (system, audit, memory, queue, chains, mesh,
	// roles, profiles)
	hubConfig, err := loader.loadHubYAML()
	if err != nil {
		return nil, NewLoadError("polyhub.yaml", err)
	}

	// 2. Load endpoints.yaml
	userEndpoints, err := loader.loadEndpointsYAML()
	if err != nil {
		return nil, NewLoadError("endpoints.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	endpoints := mergeEndpoints(builtin.Endpoints, userEndpoints)
	profiles := mergeProfiles(builtin.Profiles, hubConfig.Profiles)
	roles := mergeRoles(builtin.Roles, hubConfig.Roles)

	// 5. Resolve the data directory before sub-config defaults, which
	// derive their paths from it
	dataDir := DefaultDataDir
	if hubConfig.System != nil && hubConfig.System.DataDir != "" {
		dataDir = hubConfig.System.DataDir
	}

	// 6. Merge user sub-configs over built-in defaults (non-zero values
	// override)
	auditCfg, err := mergeOverDefaults(DefaultAuditConfig(dataDir), hubConfig.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to merge audit config: %w", err)
	}
	memoryCfg, err := mergeOverDefaults(DefaultMemoryConfig(dataDir), hubConfig.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to merge memory config: %w", err)
	}
	queueCfg, err := mergeOverDefaults(DefaultQueueConfig(dataDir), hubConfig.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}
	chainCfg, err := mergeOverDefaults(DefaultChainConfig(dataDir), hubConfig.Chains)
	if err != nil {
		return nil, fmt.Errorf("failed to merge chain config: %w", err)
	}
	meshCfg, err := mergeOverDefaults(DefaultMeshConfig(), hubConfig.Mesh)
	if err != nil {
		return nil, fmt.Errorf("failed to merge mesh config: %w", err)
	}

	// 7. Build registries
	endpointRegistry := NewEndpointRegistry(endpoints)
	profileRegistry := NewProfileRegistry(profiles)

	// 8. Resolve server config
	serverCfg := resolveServerConfig(hubConfig.System)

	return &Config{
		configDir:        configDir,
		dataDir:          dataDir,
		Server:           serverCfg,
		Audit:            auditCfg,
		Memory:           memoryCfg,
		Queue:            queueCfg,
		Chains:           chainCfg,
		Mesh:             meshCfg,
		Roles:            roles,
		EndpointRegistry: endpointRegistry,
		ProfileRegistry:  profileRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// mergeOverDefaults merges a user-provided config into defaults so unset
// fields keep their default values.
func mergeOverDefaults[T any](defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, err
	}
	return defaults, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadHubYAML reads polyhub.yaml. A missing file is not an error: the
// built-in configuration is a complete working setup.
func (l *configLoader) loadHubYAML() (*HubYAMLConfig, error) {
	var config HubYAMLConfig

	// Initialize maps to avoid nil maps
	config.Roles = make(map[string]string)
	config.Profiles = make(map[string]ProfileConfig)

	if err := l.loadYAML("polyhub.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No polyhub.yaml found, using built-in configuration")
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// loadEndpointsYAML reads endpoints.yaml. Also optional.
func (l *configLoader) loadEndpointsYAML() (map[string]EndpointConfig, error) {
	var config EndpointsYAMLConfig
	config.Endpoints = make(map[string]EndpointConfig)

	if err := l.loadYAML("endpoints.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No endpoints.yaml found, using built-in endpoints")
			return config.Endpoints, nil
		}
		return nil, err
	}

	return config.Endpoints, nil
}

// resolveServerConfig resolves server configuration from system YAML, applying defaults.
func resolveServerConfig(sys *SystemYAMLConfig) *ServerConfig {
	cfg := DefaultServerConfig()

	if sys == nil {
		return cfg
	}
	if sys.Host != "" {
		cfg.Host = sys.Host
	}
	if sys.Port != 0 {
		cfg.Port = sys.Port
	}
	if len(sys.AllowedWSOrigins) > 0 {
		cfg.AllowedWSOrigins = append([]string(nil), sys.AllowedWSOrigins...)
	}

	return cfg
}
