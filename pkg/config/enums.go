package config

// ProviderType identifies which upstream client an endpoint speaks.
type ProviderType string

const (
	// ProviderOpenAI uses the OpenAI-compatible chat completions API.
	// Covers OpenAI itself plus Kimi, DeepSeek, Qwen, and Gemini's
	// OpenAI-compatible surface via a custom base URL.
	ProviderOpenAI ProviderType = "openai"
	// ProviderAnthropic uses the Anthropic Messages API.
	ProviderAnthropic ProviderType = "anthropic"
	// ProviderLocal is an OpenAI-compatible server on localhost
	// (LM Studio, Ollama). No API key required.
	ProviderLocal ProviderType = "local"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderOpenAI, ProviderAnthropic, ProviderLocal:
		return true
	default:
		return false
	}
}

// Capability tags what kind of work an endpoint is good at. Task routing
// and queue distribution match on these.
type Capability string

const (
	CapabilityGeneral     Capability = "general"
	CapabilityResearch    Capability = "research"
	CapabilityCode        Capability = "code"
	CapabilityReview      Capability = "review"
	CapabilityReasoning   Capability = "reasoning"
	CapabilityFast        Capability = "fast"
	CapabilityLongContext Capability = "long_context"
)

// IsValid checks if the capability is valid
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityGeneral, CapabilityResearch, CapabilityCode,
		CapabilityReview, CapabilityReasoning, CapabilityFast,
		CapabilityLongContext:
		return true
	default:
		return false
	}
}
