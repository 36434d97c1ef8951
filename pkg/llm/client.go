// Package llm provides clients for the upstream model APIs the hub routes
// to. One client speaks the OpenAI-compatible chat completions surface
// (OpenAI, Kimi, DeepSeek, Qwen, Gemini's compat layer, local servers),
// one speaks the Anthropic Messages API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/polyhub/polyhub/pkg/config"
)

var (
	// ErrAPIKeyMissing indicates the endpoint's API key environment
	// variable is not set.
	ErrAPIKeyMissing = errors.New("API key not configured")

	// ErrEmptyResponse indicates the upstream returned no choices.
	ErrEmptyResponse = errors.New("upstream returned empty response")
)

// Request is a single-turn generation request.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// Prompt is the user message. Required.
	Prompt string

	// MaxTokens caps the completion length. Zero means the endpoint or
	// provider default.
	MaxTokens int

	// Temperature overrides the endpoint default when set.
	Temperature *float64
}

// Response is the upstream's answer.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the concrete model that answered.
	Model string

	// TokensUsed is the total token count the upstream reported, or an
	// estimate when it reported none.
	TokensUsed int

	// StopReason is the upstream's finish reason, normalized to the
	// provider's own vocabulary.
	StopReason string
}

// Client generates completions against one configured endpoint.
type Client interface {
	// Generate performs a single blocking completion. The context bounds
	// the whole call.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// NewClient builds the client matching the endpoint's provider type.
// Missing API keys do not fail construction: the client reports
// ErrAPIKeyMissing on first use so the hub can start with a partial
// credential set.
func NewClient(name string, cfg *config.EndpointConfig) (Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Type {
	case config.ProviderOpenAI:
		return newOpenAIClient(name, cfg, apiKey), nil
	case config.ProviderLocal:
		// Local servers accept any key; "local" satisfies clients that
		// insist on a bearer token.
		if apiKey == "" {
			apiKey = "local"
		}
		return newOpenAIClient(name, cfg, apiKey), nil
	case config.ProviderAnthropic:
		return newAnthropicClient(name, cfg, apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q for endpoint %s", cfg.Type, name)
	}
}
