// Package llmclient provides the decide oracle behind the agent loop. The
// Gemini client is the production implementation; the scripted client
// replays canned responses for tests and offline runs. Both satisfy
// schemas.LLMClient.
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// mockDecision is what the mock provider answers to every prompt: a
// completion decision, so pipeline smoke tests terminate after one step.
const mockDecision = `{"thought": "Mock provider selected; completing immediately.", "type": "DONE", "summary": "Mock provider performed no browsing."}`

// NewClient builds the LLM client named by the configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderMock:
		return NewLoopingScriptedClient(mockDecision), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q, supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderMock)
	}
}
