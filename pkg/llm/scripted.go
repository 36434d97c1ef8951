package llm

import (
	"context"
	"errors"
	"sync"
)

// GenerateFunc adapts a function to the Client interface.
type GenerateFunc func(ctx context.Context, req *Request) (*Response, error)

// Generate implements Client.
func (f GenerateFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ErrScriptExhausted is returned by a ScriptedClient that ran out of
// enqueued results and has no default.
var ErrScriptExhausted = errors.New("scripted client: no responses left")

// ScriptedClient is a Client test double. Results play back in the order
// they were enqueued; every request is recorded for assertions.
type ScriptedClient struct {
	mu      sync.Mutex
	script  []scriptedResult
	calls   []*Request
	defResp *Response
}

type scriptedResult struct {
	resp *Response
	err  error
}

// NewScriptedClient creates an empty scripted client. Without enqueued
// results or a default, Generate fails with ErrScriptExhausted.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{}
}

// Enqueue appends a successful response to the script.
func (s *ScriptedClient) Enqueue(resp *Response) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scriptedResult{resp: resp})
	return s
}

// EnqueueText is shorthand for enqueueing a plain text response.
func (s *ScriptedClient) EnqueueText(text string) *ScriptedClient {
	return s.Enqueue(&Response{
		Content:    text,
		Model:      "scripted",
		TokensUsed: len(text) / 4,
		StopReason: "end_turn",
	})
}

// EnqueueError appends a failure to the script.
func (s *ScriptedClient) EnqueueError(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, scriptedResult{err: err})
	return s
}

// SetDefault makes the client answer with resp once the script runs out.
func (s *ScriptedClient) SetDefault(resp *Response) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defResp = resp
	return s
}

// Generate implements Client.
func (s *ScriptedClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		return next.resp, next.err
	}
	if s.defResp != nil {
		return s.defResp, nil
	}
	return nil, ErrScriptExhausted
}

// Calls returns a copy of every recorded request.
func (s *ScriptedClient) Calls() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.calls...)
}

// CallCount returns how many requests the client has seen.
func (s *ScriptedClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
