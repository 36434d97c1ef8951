package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/polyhub/polyhub/pkg/config"
)

// openaiClient speaks the OpenAI-compatible chat completions API. A custom
// base URL points it at Kimi, DeepSeek, Qwen, Gemini's compat surface, or
// a local server.
type openaiClient struct {
	name   string
	cfg    *config.EndpointConfig
	client *openai.Client
	hasKey bool
}

func newOpenAIClient(name string, cfg *config.EndpointConfig, apiKey string) *openaiClient {
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &openaiClient{
		name:   name,
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		hasKey: apiKey != "",
	}
}

func (c *openaiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if !c.hasKey {
		return nil, fmt.Errorf("%w: endpoint %s needs %s", ErrAPIKeyMissing, c.name, c.cfg.APIKeyEnv)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: c.buildMessages(req),
	}
	if max := c.maxTokens(req); max > 0 {
		chatReq.MaxTokens = max
	}
	if t := c.temperature(req); t != nil {
		chatReq.Temperature = float32(*t)
	}

	// One attempt per call. Retry policy lives with the callers: the
	// command queue bounds re-dispatch by max_retries, and the mesh falls
	// back once through the circuit registry.
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", c.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("endpoint %s: %w", c.name, ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
		StopReason: string(choice.FinishReason),
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	if out.TokensUsed == 0 {
		out.TokensUsed = estimateTokens(req.Prompt, req.System, out.Content)
	}
	return out, nil
}

func (c *openaiClient) buildMessages(req *Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return messages
}

func (c *openaiClient) maxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return c.cfg.MaxTokens
}

func (c *openaiClient) temperature(req *Request) *float64 {
	if req.Temperature != nil {
		return req.Temperature
	}
	return c.cfg.Temperature
}

// estimateTokens approximates usage as len/4 when the upstream reports
// nothing. Good enough for accounting on local servers.
func estimateTokens(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	return total / 4
}
