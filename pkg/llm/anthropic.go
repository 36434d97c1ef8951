package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/polyhub/polyhub/pkg/config"
)

// defaultAnthropicMaxTokens applies when neither the request nor the
// endpoint sets a cap. The Messages API requires an explicit value.
const defaultAnthropicMaxTokens = 4096

// anthropicClient speaks the Anthropic Messages API.
type anthropicClient struct {
	name   string
	cfg    *config.EndpointConfig
	client anthropic.Client
	hasKey bool
}

func newAnthropicClient(name string, cfg *config.EndpointConfig, apiKey string) *anthropicClient {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{
		name:   name,
		cfg:    cfg,
		client: anthropic.NewClient(options...),
		hasKey: apiKey != "",
	}
}

func (c *anthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if !c.hasKey {
		return nil, fmt.Errorf("%w: endpoint %s needs %s", ErrAPIKeyMissing, c.name, c.cfg.APIKeyEnv)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if t := req.Temperature; t != nil {
		params.Temperature = anthropic.Float(*t)
	} else if c.cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*c.cfg.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: messages.new: %w", c.name, err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" && len(msg.Content) == 0 {
		return nil, fmt.Errorf("endpoint %s: %w", c.name, ErrEmptyResponse)
	}

	return &Response{
		Content:    content,
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		StopReason: string(msg.StopReason),
	}, nil
}
