package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// GeminiClient implements schemas.LLMClient against the Gemini API. One
// client serves both model tiers; the request's Tier picks the model.
type GeminiClient struct {
	client  *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	cfg     config.LLMConfig
}

// NewGeminiClient initializes the client. The API key comes from the
// environment variable the configuration names, never from the config file.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required, set %s", cfg.APIKeyEnv)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}

	return &GeminiClient{
		client:  client,
		limiter: limiter,
		logger:  logger.Named("llmclient.gemini"),
		cfg:     cfg,
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated
// text, retrying transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	model := c.modelFor(req.Tier)
	genConfig := c.buildGenerationConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	var policy backoff.BackOff = backoff.WithContext(b, ctx)
	if c.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries))
	}

	var responseContent string
	operation := func() error {
		callCtx := ctx
		if c.cfg.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout)
			defer cancel()
		}

		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, model, genai.Text(req.UserPrompt), genConfig)
		duration := time.Since(startTime)

		if err != nil {
			return c.classifyError(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(errors.New("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		text := resp.Text()
		if text == "" {
			if candidate.FinishReason == genai.FinishReasonSafety ||
				candidate.FinishReason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{
			zap.String("model", model),
			zap.Duration("duration", duration),
		}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete", fields...)

		responseContent = text
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Error("LLM generation failed",
			observability.ErrID(observability.ErrLLMCall),
			zap.String("model", model),
			zap.Error(err),
		)
		return "", err
	}
	return responseContent, nil
}

// Close implements schemas.LLMClient. The genai client holds no connections
// that need explicit release.
func (c *GeminiClient) Close() error { return nil }

// modelFor maps a tier to a configured model name. Unspecified tiers get the
// powerful model, matching the contract that ambiguity must never trade
// capability away silently.
func (c *GeminiClient) modelFor(tier schemas.ModelTier) string {
	if tier == schemas.TierFast && c.cfg.FastModel != "" {
		return c.cfg.FastModel
	}
	return c.cfg.PowerfulModel
}

func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	topP := float32(req.Options.TopP)
	if topP == 0 {
		topP = c.cfg.TopP
	}
	topK := float32(req.Options.TopK)
	if topK == 0 {
		topK = float32(c.cfg.TopK)
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopP:            genai.Ptr(topP),
		TopK:            genai.Ptr(topK),
		MaxOutputTokens: int32(c.cfg.MaxTokens),
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}
	return genConfig
}

// classifyError decides whether an API error is worth retrying. Rate limits
// and server-side failures are transient; everything else is permanent.
func (c *GeminiClient) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			c.logger.Warn("Transient Gemini API error, retrying",
				zap.Int("status", apiErr.Code),
				zap.String("message", apiErr.Message),
			)
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	// Network-level failure with no API status attached.
	c.logger.Warn("Network error during LLM request, retrying", zap.Error(err))
	return err
}
