// Package config loads and validates the loom configuration document. A
// missing file yields pure defaults so the CLI works out of the box; unknown
// keys are rejected to catch typos early.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full loom configuration document.
type Config struct {
	Model     ModelConfig     `yaml:"model,omitempty"`
	Execution ExecutionConfig `yaml:"execution,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Prompt    PromptConfig    `yaml:"prompt,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// ModelConfig selects the LLM provider and model.
type ModelConfig struct {
	Provider    string  `yaml:"provider,omitempty" validate:"omitempty,oneof=openai anthropic"`
	Name        string  `yaml:"name,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
	Temperature float32 `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
}

// ExecutionConfig holds the executor and processor knobs.
type ExecutionConfig struct {
	MaxConcurrency    int      `yaml:"max_concurrency,omitempty" validate:"omitempty,min=1,max=64"`
	StepTimeout       Duration `yaml:"step_timeout,omitempty"`
	MaxRetries        int      `yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
	RetryDelay        Duration `yaml:"retry_delay,omitempty"`
	MaxLLMRetries     int      `yaml:"max_llm_retries,omitempty" validate:"omitempty,min=0,max=10"`
	ContinueOnFailure *bool    `yaml:"continue_on_failure,omitempty"`
}

// CacheConfig controls the processor's tool-result cache.
type CacheConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// SessionConfig selects and configures the session store provider.
type SessionConfig struct {
	Store string           `yaml:"store,omitempty" validate:"omitempty,oneof=memory file redis"`
	File  FileStoreConfig  `yaml:"file,omitempty"`
	Redis RedisStoreConfig `yaml:"redis,omitempty"`
}

// FileStoreConfig configures the file-backed session store.
type FileStoreConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// RedisStoreConfig configures the Redis session store.
type RedisStoreConfig struct {
	Addr      string   `yaml:"addr,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	DB        int      `yaml:"db,omitempty" validate:"omitempty,min=0"`
	TTL       Duration `yaml:"ttl,omitempty"`
	KeyPrefix string   `yaml:"key_prefix,omitempty"`
}

// PromptConfig selects the prompt-rebuild strategy and its token budget.
type PromptConfig struct {
	Strategy  string `yaml:"strategy,omitempty" validate:"omitempty,oneof=minimal conversation hierarchical tool_focused"`
	MaxTokens int    `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
}

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration time.Duration

// UnmarshalYAML decodes either a duration string ("250ms", "30s") or a bare
// number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, perr := time.ParseDuration(text)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", text, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	continueOn := true
	cacheOn := true
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Execution: ExecutionConfig{
			MaxConcurrency:    3,
			StepTimeout:       Duration(30 * time.Second),
			MaxRetries:        2,
			RetryDelay:        Duration(time.Second),
			MaxLLMRetries:     2,
			ContinueOnFailure: &continueOn,
		},
		Cache: CacheConfig{Enabled: &cacheOn},
		Session: SessionConfig{
			Store: "memory",
			File:  FileStoreConfig{Dir: ".loom/sessions"},
			Redis: RedisStoreConfig{Addr: "localhost:6379", KeyPrefix: "loom:session:"},
		},
		Prompt: PromptConfig{
			Strategy:  "conversation",
			MaxTokens: 4096,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// applyDefaults fills zero-valued fields from Default so partial documents
// behave like overrides.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Model.Provider == "" {
		c.Model.Provider = def.Model.Provider
	}
	if c.Model.Name == "" {
		c.Model.Name = def.Model.Name
	}
	if c.Model.APIKeyEnv == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.APIKeyEnv = "ANTHROPIC_API_KEY"
		default:
			c.Model.APIKeyEnv = def.Model.APIKeyEnv
		}
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = def.Model.MaxTokens
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = def.Model.Temperature
	}

	if c.Execution.MaxConcurrency == 0 {
		c.Execution.MaxConcurrency = def.Execution.MaxConcurrency
	}
	if c.Execution.StepTimeout == 0 {
		c.Execution.StepTimeout = def.Execution.StepTimeout
	}
	if c.Execution.MaxRetries == 0 {
		c.Execution.MaxRetries = def.Execution.MaxRetries
	}
	if c.Execution.RetryDelay == 0 {
		c.Execution.RetryDelay = def.Execution.RetryDelay
	}
	if c.Execution.MaxLLMRetries == 0 {
		c.Execution.MaxLLMRetries = def.Execution.MaxLLMRetries
	}
	if c.Execution.ContinueOnFailure == nil {
		c.Execution.ContinueOnFailure = def.Execution.ContinueOnFailure
	}

	if c.Cache.Enabled == nil {
		c.Cache.Enabled = def.Cache.Enabled
	}

	if c.Session.Store == "" {
		c.Session.Store = def.Session.Store
	}
	if c.Session.File.Dir == "" {
		c.Session.File.Dir = def.Session.File.Dir
	}
	if c.Session.Redis.Addr == "" {
		c.Session.Redis.Addr = def.Session.Redis.Addr
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = def.Session.Redis.KeyPrefix
	}

	if c.Prompt.Strategy == "" {
		c.Prompt.Strategy = def.Prompt.Strategy
	}
	if c.Prompt.MaxTokens == 0 {
		c.Prompt.MaxTokens = def.Prompt.MaxTokens
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}
