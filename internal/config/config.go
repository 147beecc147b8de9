package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration for the scout agent, assembled from
// defaults, an optional config file, and SCOUT_* environment variables.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig controls console and file logging.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color for each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless" yaml:"headless"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int    `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	// NavigationTimeout bounds full page loads; ActionTimeout bounds single
	// element interactions; StabilityTimeout caps the network-idle wait the
	// recovery engine relies on.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	StabilityTimeout  time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`
}

// AgentConfig tunes the observe/decide/act loop.
type AgentConfig struct {
	// MaxElements bounds how many interactive elements one observation may
	// carry into the prompt.
	MaxElements int `mapstructure:"max_elements" yaml:"max_elements"`
	// MaxTextLength bounds the visible-text excerpt in characters.
	MaxTextLength int `mapstructure:"max_text_length" yaml:"max_text_length"`
	// MaxSteps bounds LLM decision calls per task.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// RetryAttempts is the number of escalating recovery attempts per failed
	// action.
	RetryAttempts  int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	// StuckThreshold is the consecutive-failure count that declares the loop
	// stuck; twice this value bounds actions without progress.
	StuckThreshold int `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	// AutoApprove skips the interactive confirmation gate for destructive
	// actions. Intended for unattended runs against disposable targets.
	AutoApprove   bool   `mapstructure:"auto_approve" yaml:"auto_approve"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	// VisionFallbackMin is the element count below which an observation is
	// considered too sparse and a screenshot is captured alongside it.
	VisionFallbackMin int `mapstructure:"vision_fallback_min" yaml:"vision_fallback_min"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderMock   LLMProvider = "mock"
)

// LLMConfig configures the decide oracle.
type LLMConfig struct {
	Provider      LLMProvider   `mapstructure:"provider" yaml:"provider"`
	FastModel     string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	// APIKeyEnv names the environment variable holding the provider key. The
	// key itself never lives in config files.
	APIKeyEnv         string        `mapstructure:"api_key_env" yaml:"api_key_env"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK              int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// APIKey reads the provider key from the configured environment variable.
func (l LLMConfig) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scout")
	v.SetDefault("logger.log_file", "scout.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "5s")
	v.SetDefault("browser.stability_timeout", "5s")

	// -- Agent --
	v.SetDefault("agent.max_elements", 60)
	v.SetDefault("agent.max_text_length", 3000)
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.retry_attempts", 3)
	v.SetDefault("agent.initial_backoff", "1s")
	v.SetDefault("agent.stuck_threshold", 5)
	v.SetDefault("agent.auto_approve", false)
	v.SetDefault("agent.screenshot_dir", "~/.scout/screenshots")
	v.SetDefault("agent.vision_fallback_min", 10)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 30)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with pure defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that already has defaults, file, and env bindings applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves leading tildes in filesystem settings so the rest of
// the code only ever sees absolute or cwd-relative paths.
func (c *Config) expandPaths() error {
	var err error
	if c.Logger.LogFile != "" {
		if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
			return fmt.Errorf("expanding logger.log_file: %w", err)
		}
	}
	if c.Agent.ScreenshotDir != "" {
		if c.Agent.ScreenshotDir, err = homedir.Expand(c.Agent.ScreenshotDir); err != nil {
			return fmt.Errorf("expanding agent.screenshot_dir: %w", err)
		}
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxElements <= 0 {
		return fmt.Errorf("agent.max_elements must be a positive integer")
	}
	if c.Agent.MaxTextLength <= 0 {
		return fmt.Errorf("agent.max_text_length must be a positive integer")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.RetryAttempts <= 0 {
		return fmt.Errorf("agent.retry_attempts must be a positive integer")
	}
	if c.Agent.StuckThreshold <= 0 {
		return fmt.Errorf("agent.stuck_threshold must be a positive integer")
	}
	if c.Agent.InitialBackoff <= 0 {
		return fmt.Errorf("agent.initial_backoff must be a positive duration")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ActionTimeout <= 0 || c.Browser.StabilityTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive durations")
	}
	switch c.LLM.Provider {
	case ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	return nil
}
