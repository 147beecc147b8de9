package llmclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// ScriptedClient is a deterministic schemas.LLMClient that replays a fixed
// sequence of responses. Tests script the decisions an agent run should
// take; the mock provider loops a single completion response.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	loop      bool
	calls     int
	requests  []schemas.GenerationRequest
}

// NewScriptedClient replays the responses in order, then fails on the call
// after the last one.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// NewLoopingScriptedClient replays the responses in order and starts over
// after the last one, never failing on exhaustion.
func NewLoopingScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses, loop: true}
}

// Generate returns the next scripted response. The request is recorded for
// later inspection via Requests.
func (c *ScriptedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return "", fmt.Errorf("scripted client has no responses")
	}
	if c.calls >= len(c.responses) {
		if !c.loop {
			return "", fmt.Errorf("scripted client exhausted after %d responses", len(c.responses))
		}
		c.calls = 0
	}

	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

// Close implements schemas.LLMClient.
func (c *ScriptedClient) Close() error { return nil }

// Calls returns how many times Generate has been invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of every recorded generation request, in call
// order.
func (c *ScriptedClient) Requests() []schemas.GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.GenerationRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ schemas.LLMClient = (*ScriptedClient)(nil)
