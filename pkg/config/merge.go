package config

// mergeEndpoints merges built-in and user-defined endpoint configurations.
// User-defined endpoints override built-in endpoints with the same name.
func mergeEndpoints(builtin map[string]EndpointConfig, user map[string]EndpointConfig) map[string]*EndpointConfig {
	result := make(map[string]*EndpointConfig)

	for name, ep := range builtin {
		// Defensive copy of the capabilities slice to prevent shared state
		capsCopy := make([]Capability, len(ep.Capabilities))
		copy(capsCopy, ep.Capabilities)
		epCopy := ep
		epCopy.Capabilities = capsCopy
		result[name] = &epCopy
	}

	for name, ep := range user {
		epCopy := ep
		result[name] = &epCopy
	}

	return result
}

// mergeProfiles merges built-in and user-defined autoprompt profiles.
// User-defined profiles override built-in profiles with the same name.
func mergeProfiles(builtin map[string]ProfileConfig, user map[string]ProfileConfig) map[string]*ProfileConfig {
	result := make(map[string]*ProfileConfig)

	for name, p := range builtin {
		pCopy := p
		result[name] = &pCopy
	}

	for name, p := range user {
		pCopy := p
		result[name] = &pCopy
	}

	return result
}

// mergeRoles merges built-in and user-defined role assignments.
// User-defined assignments override built-in ones for the same caller.
func mergeRoles(builtin map[string]string, user map[string]string) map[string]string {
	result := make(map[string]string, len(builtin)+len(user))

	for caller, role := range builtin {
		result[caller] = role
	}
	for caller, role := range user {
		result[caller] = role
	}

	return result
}
