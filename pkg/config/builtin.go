package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds all built-in configuration data.
// This provides default endpoints, autoprompt profiles, and role
// assignments that work out of the box; user YAML overrides them.
type BuiltinConfig struct {
	Endpoints map[string]EndpointConfig
	Profiles  map[string]ProfileConfig
	Roles     map[string]string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Endpoints: initBuiltinEndpoints(),
		Profiles:  initBuiltinProfiles(),
		Roles:     initBuiltinRoles(),
	}
}

func initBuiltinEndpoints() map[string]EndpointConfig {
	return map[string]EndpointConfig{
		"claude": {
			Type:      ProviderAnthropic,
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Capabilities: []Capability{
				CapabilityGeneral, CapabilityCode, CapabilityReview,
				CapabilityReasoning, CapabilityLongContext,
			},
			RateLimit: 60,
			Fallback:  "gemini",
		},
		"gemini": {
			Type:      ProviderOpenAI,
			Model:     "gemini-2.5-pro",
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			APIKeyEnv: "GEMINI_API_KEY",
			Capabilities: []Capability{
				CapabilityGeneral, CapabilityResearch,
				CapabilityReasoning, CapabilityLongContext,
			},
			RateLimit: 60,
			Fallback:  "claude",
		},
		"kimi": {
			Type:      ProviderOpenAI,
			Model:     "kimi-k2-0905-preview",
			BaseURL:   "https://api.moonshot.ai/v1",
			APIKeyEnv: "MOONSHOT_API_KEY",
			Capabilities: []Capability{
				CapabilityResearch, CapabilityLongContext, CapabilityGeneral,
			},
			RateLimit: 30,
			Fallback:  "deepseek",
		},
		"deepseek": {
			Type:      ProviderOpenAI,
			Model:     "deepseek-chat",
			BaseURL:   "https://api.deepseek.com/v1",
			APIKeyEnv: "DEEPSEEK_API_KEY",
			Capabilities: []Capability{
				CapabilityCode, CapabilityReasoning,
				CapabilityFast, CapabilityGeneral,
			},
			RateLimit: 60,
			Fallback:  "kimi",
		},
		"qwen": {
			Type:      ProviderOpenAI,
			Model:     "qwen-max",
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKeyEnv: "DASHSCOPE_API_KEY",
			Capabilities: []Capability{
				CapabilityCode, CapabilityGeneral, CapabilityFast,
			},
			RateLimit: 60,
			Fallback:  "deepseek",
		},
		"local": {
			Type:    ProviderLocal,
			Model:   "local-model",
			BaseURL: "http://localhost:1234/v1",
			Capabilities: []Capability{
				CapabilityFast, CapabilityGeneral,
			},
			RateLimit: 120,
			Timeout:   5 * time.Minute,
		},
	}
}

func initBuiltinProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		"research": {
			Description: "Deep research with cited sources",
			SystemPrompt: "You are a research specialist. Investigate the question thoroughly, " +
				"distinguish established facts from speculation, and cite sources " +
				"where possible. Say so explicitly when evidence is thin.",
		},
		"code": {
			Description: "Code generation and modification",
			SystemPrompt: "You are a senior software engineer. Produce complete, working code " +
				"with no placeholders. Explain non-obvious decisions briefly. " +
				"Flag any assumption you had to make.",
			Temperature: floatPtr(0.2),
		},
		"review": {
			Description: "Critical review of another model's output",
			SystemPrompt: "You are reviewing work produced by another model. Look for factual " +
				"errors, logic gaps, and unsupported claims. Be specific: quote the " +
				"problematic passage and say what is wrong with it.",
			Temperature: floatPtr(0.3),
		},
		"terse": {
			Description:  "Short factual answers",
			SystemPrompt: "Answer in as few words as accuracy allows. No preamble, no hedging.",
			MaxTokens:    512,
		},
	}
}

func initBuiltinRoles() map[string]string {
	return map[string]string{
		"operator": "ADMIN",
		"claude":   "LEAD",
		"gemini":   "WORKER",
		"kimi":     "WORKER",
		"deepseek": "WORKER",
		"qwen":     "REVIEWER",
		"local":    "WORKER",
	}
}

func floatPtr(f float64) *float64 { return &f }
