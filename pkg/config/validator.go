package config

import (
	"fmt"
	"strings"

	"github.com/polyhub/polyhub/pkg/rbac"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: endpoints → profiles → roles → mesh
	// Endpoints first since fallback references depend on them

	if err := v.validateEndpoints(); err != nil {
		return fmt.Errorf("endpoint validation failed: %w", err)
	}

	if err := v.validateProfiles(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if err := v.validateRoles(); err != nil {
		return fmt.Errorf("role validation failed: %w", err)
	}

	if err := v.validateMesh(); err != nil {
		return fmt.Errorf("mesh validation failed: %w", err)
	}

	if err := v.validateChains(); err != nil {
		return fmt.Errorf("chain validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateEndpoints() error {
	endpoints := v.cfg.EndpointRegistry.GetAll()
	if len(endpoints) == 0 {
		return NewValidationError("endpoint", "*", "",
			fmt.Errorf("at least one endpoint required"))
	}

	for name, ep := range endpoints {
		if !ep.Type.IsValid() {
			return NewValidationError("endpoint", name, "type",
				fmt.Errorf("%w: %s", ErrInvalidValue, ep.Type))
		}
		if ep.Model == "" {
			return NewValidationError("endpoint", name, "model", ErrMissingRequiredField)
		}
		if ep.Type == ProviderLocal && ep.BaseURL == "" {
			return NewValidationError("endpoint", name, "base_url",
				fmt.Errorf("%w for local endpoints", ErrMissingRequiredField))
		}
		if ep.BaseURL != "" && !strings.HasPrefix(ep.BaseURL, "http://") && !strings.HasPrefix(ep.BaseURL, "https://") {
			return NewValidationError("endpoint", name, "base_url",
				fmt.Errorf("%w: must start with http:// or https://", ErrInvalidValue))
		}
		for _, c := range ep.Capabilities {
			if !c.IsValid() {
				return NewValidationError("endpoint", name, "capabilities",
					fmt.Errorf("%w: %s", ErrInvalidValue, c))
			}
		}
		if ep.RateLimit < 0 {
			return NewValidationError("endpoint", name, "rate_limit",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		if ep.Timeout < 0 {
			return NewValidationError("endpoint", name, "timeout",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		if ep.Fallback != "" {
			if ep.Fallback == name {
				return NewValidationError("endpoint", name, "fallback",
					fmt.Errorf("%w: endpoint cannot be its own fallback", ErrInvalidReference))
			}
			if !v.cfg.EndpointRegistry.Has(ep.Fallback) {
				return NewValidationError("endpoint", name, "fallback",
					fmt.Errorf("%w: endpoint '%s' not found", ErrInvalidReference, ep.Fallback))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateProfiles() error {
	for name, p := range v.cfg.ProfileRegistry.GetAll() {
		if p.SystemPrompt == "" {
			return NewValidationError("profile", name, "system_prompt", ErrMissingRequiredField)
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			return NewValidationError("profile", name, "temperature",
				fmt.Errorf("%w: must be between 0 and 2", ErrInvalidValue))
		}
		if p.MaxTokens < 0 {
			return NewValidationError("profile", name, "max_tokens",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
	}

	return nil
}

func (v *ConfigValidator) validateRoles() error {
	for caller, role := range v.cfg.Roles {
		if caller == "" {
			return NewValidationError("role", "*", "",
				fmt.Errorf("%w: empty caller id", ErrInvalidValue))
		}
		if !rbac.Role(role).IsValid() {
			return NewValidationError("role", caller, "",
				fmt.Errorf("%w: unknown role '%s'", ErrInvalidValue, role))
		}
	}

	return nil
}

func (v *ConfigValidator) validateChains() error {
	ch := v.cfg.Chains
	if ch.Lead == "" {
		return NewValidationError("chain", "chains", "lead", ErrMissingRequiredField)
	}
	if !v.cfg.EndpointRegistry.Has(ch.Lead) {
		return NewValidationError("chain", "chains", "lead",
			fmt.Errorf("%w: endpoint '%s' not found", ErrInvalidReference, ch.Lead))
	}
	if ch.MaxCycles <= 0 {
		return NewValidationError("chain", "chains", "max_cycles",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ch.MaxParallel <= 0 {
		return NewValidationError("chain", "chains", "max_parallel",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateMesh() error {
	m := v.cfg.Mesh
	if m.MaxTraceDepth <= 0 {
		return NewValidationError("mesh", "mesh", "max_trace_depth",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.DefaultRateLimit <= 0 {
		return NewValidationError("mesh", "mesh", "default_rate_limit",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.CallTimeout <= 0 {
		return NewValidationError("mesh", "mesh", "call_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c := m.Circuit; c != nil {
		if c.FailureThreshold <= 0 {
			return NewValidationError("mesh", "circuit", "failure_threshold",
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if c.RecoveryTimeout <= 0 {
			return NewValidationError("mesh", "circuit", "recovery_timeout",
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if c.HalfOpenMaxCalls <= 0 {
			return NewValidationError("mesh", "circuit", "half_open_max_calls",
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}

	return nil
}
