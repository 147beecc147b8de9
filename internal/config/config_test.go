package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "scout", cfg.Logger.ServiceName)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, 5*time.Second, cfg.Browser.StabilityTimeout)

	assert.Equal(t, 60, cfg.Agent.MaxElements)
	assert.Equal(t, 3000, cfg.Agent.MaxTextLength)
	assert.Equal(t, 30, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Agent.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Agent.InitialBackoff)
	assert.Equal(t, 5, cfg.Agent.StuckThreshold)
	assert.False(t, cfg.Agent.AutoApprove)
	assert.Equal(t, 10, cfg.Agent.VisionFallbackMin)

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.PowerfulModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.FastModel)
	assert.Equal(t, "GEMINI_API_KEY", cfg.LLM.APIKeyEnv)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	base := func() Config { return *NewDefaultConfig() }

	t.Run("default config is valid", func(t *testing.T) {
		cfg := base()
		assert.NoError(t, cfg.Validate())
	})

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero max elements",
			mutate:  func(c *Config) { c.Agent.MaxElements = 0 },
			wantErr: "agent.max_elements",
		},
		{
			name:    "negative max text length",
			mutate:  func(c *Config) { c.Agent.MaxTextLength = -1 },
			wantErr: "agent.max_text_length",
		},
		{
			name:    "zero max steps",
			mutate:  func(c *Config) { c.Agent.MaxSteps = 0 },
			wantErr: "agent.max_steps",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Agent.RetryAttempts = 0 },
			wantErr: "agent.retry_attempts",
		},
		{
			name:    "zero stuck threshold",
			mutate:  func(c *Config) { c.Agent.StuckThreshold = 0 },
			wantErr: "agent.stuck_threshold",
		},
		{
			name:    "zero navigation timeout",
			mutate:  func(c *Config) { c.Browser.NavigationTimeout = 0 },
			wantErr: "browser timeouts",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "palmtree" },
			wantErr: "llm.provider",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")

		yamlConfig := []byte(`
agent:
  max_elements: 25
  auto_approve: true
browser:
  headless: false
  navigation_timeout: 45s
llm:
  provider: mock
  base_url: https://llm-proxy.example.com
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 25, cfg.Agent.MaxElements)
		assert.True(t, cfg.Agent.AutoApprove)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
		assert.Equal(t, ProviderMock, cfg.LLM.Provider)
		assert.Equal(t, "https://llm-proxy.example.com", cfg.LLM.BaseURL)
		// Untouched keys keep their defaults.
		assert.Equal(t, 3000, cfg.Agent.MaxTextLength)
	})

	t.Run("invalid file values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer([]byte("agent:\n  max_steps: 0\n"))))

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("tilde paths are expanded", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.NotContains(t, cfg.Agent.ScreenshotDir, "~", "screenshot dir should be expanded")
	})
}

func TestAPIKeyReadsEnvironment(t *testing.T) {
	t.Setenv("SCOUT_TEST_API_KEY", "key-from-env")

	cfg := LLMConfig{APIKeyEnv: "SCOUT_TEST_API_KEY"}
	assert.Equal(t, "key-from-env", cfg.APIKey())

	cfg.APIKeyEnv = ""
	assert.Empty(t, cfg.APIKey())
}
