package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyhub/polyhub/pkg/config"
)

func TestNewClientByProviderType(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.EndpointConfig
	}{
		{
			name: "openai",
			cfg:  &config.EndpointConfig{Type: config.ProviderOpenAI, Model: "gpt-4o", APIKeyEnv: "TEST_OPENAI_KEY"},
		},
		{
			name: "anthropic",
			cfg:  &config.EndpointConfig{Type: config.ProviderAnthropic, Model: "claude-sonnet-4-5", APIKeyEnv: "TEST_ANTHROPIC_KEY"},
		},
		{
			name: "local",
			cfg:  &config.EndpointConfig{Type: config.ProviderLocal, Model: "llama", BaseURL: "http://localhost:1234/v1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.name, tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient("bad", &config.EndpointConfig{Type: "grpc", Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider type")
}

func TestGenerateWithoutKeyFails(t *testing.T) {
	// Construction succeeds so the hub can start with partial
	// credentials; the first call reports the missing key.
	cfg := &config.EndpointConfig{Type: config.ProviderOpenAI, Model: "gpt-4o", APIKeyEnv: "TEST_UNSET_KEY_XYZ"}
	c, err := NewClient("openai", cfg)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), &Request{Prompt: "hello"})
	assert.ErrorIs(t, err, ErrAPIKeyMissing)
	assert.Contains(t, err.Error(), "TEST_UNSET_KEY_XYZ")
}

func TestLocalClientNeedsNoKey(t *testing.T) {
	cfg := &config.EndpointConfig{Type: config.ProviderLocal, Model: "llama", BaseURL: "http://localhost:1234/v1"}
	c, err := NewClient("local", cfg)
	require.NoError(t, err)

	oc, ok := c.(*openaiClient)
	require.True(t, ok)
	assert.True(t, oc.hasKey)
}

func TestGenerateMakesOneUpstreamRequest(t *testing.T) {
	// Retry policy belongs to the command queue and the mesh fallback, so
	// a failing upstream must see exactly one request per Generate call.
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	cfg := &config.EndpointConfig{Type: config.ProviderLocal, Model: "llama", BaseURL: srv.URL + "/v1"}
	c, err := NewClient("local", cfg)
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), &Request{Prompt: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint local")
	assert.Equal(t, int32(1), requests.Load())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens())
	assert.Equal(t, 3, estimateTokens("hello, world")) // 12 chars / 4
	assert.Equal(t, 6, estimateTokens("hello, world", "hello, world"))
}

func TestOpenAIClientDefaultsFromEndpointConfig(t *testing.T) {
	temp := 0.4
	cfg := &config.EndpointConfig{
		Type:        config.ProviderOpenAI,
		Model:       "gpt-4o",
		MaxTokens:   2048,
		Temperature: &temp,
	}
	c := newOpenAIClient("openai", cfg, "key")

	assert.Equal(t, 2048, c.maxTokens(&Request{}))
	assert.Equal(t, 512, c.maxTokens(&Request{MaxTokens: 512}))

	reqTemp := 0.9
	assert.Equal(t, 0.4, *c.temperature(&Request{}))
	assert.Equal(t, 0.9, *c.temperature(&Request{Temperature: &reqTemp}))
}

func TestScriptedClientPlayback(t *testing.T) {
	s := NewScriptedClient().
		EnqueueText("first").
		EnqueueError(errors.New("upstream down")).
		EnqueueText("third")

	ctx := context.Background()

	resp, err := s.Generate(ctx, &Request{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	_, err = s.Generate(ctx, &Request{Prompt: "b"})
	require.Error(t, err)

	resp, err = s.Generate(ctx, &Request{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Content)

	// Script exhausted, no default
	_, err = s.Generate(ctx, &Request{Prompt: "d"})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	calls := s.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "a", calls[0].Prompt)
	assert.Equal(t, 4, s.CallCount())
}

func TestScriptedClientDefault(t *testing.T) {
	s := NewScriptedClient().SetDefault(&Response{Content: "always"})

	for i := 0; i < 3; i++ {
		resp, err := s.Generate(context.Background(), &Request{Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "always", resp.Content)
	}
}

func TestGenerateFuncAdapter(t *testing.T) {
	var got *Request
	c := GenerateFunc(func(_ context.Context, req *Request) (*Response, error) {
		got = req
		return &Response{Content: "ok"}, nil
	})

	resp, err := c.Generate(context.Background(), &Request{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "ping", got.Prompt)
}
