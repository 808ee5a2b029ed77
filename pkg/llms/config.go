package llms

import (
	"encoding/json"
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
)

// Config describes one provider instance.
type Config struct {
	// Type selects the adapter: openai, anthropic, gemini or ollama.
	Type string `yaml:"type" mapstructure:"type"`

	Model  string `yaml:"model" mapstructure:"model"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Host overrides the provider base URL. Required for ollama only.
	Host string `yaml:"host" mapstructure:"host"`

	// OrganizationID is sent as the OpenAI organization header when set.
	OrganizationID string `yaml:"organization_id,omitempty" mapstructure:"organization_id"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout" mapstructure:"timeout"`

	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature"`
}

const redactedKey = "[REDACTED]"

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return redactedKey
}

// String renders the config with the API key redacted. Every fmt verb that
// reaches a Config value goes through here or GoString.
func (c Config) String() string {
	return fmt.Sprintf("Config{Type:%s Model:%s Host:%s APIKey:%s OrganizationID:%s Timeout:%d MaxTokens:%d}",
		c.Type, c.Model, c.Host, redactSecret(c.APIKey), c.OrganizationID, c.Timeout, c.MaxTokens)
}

// GoString redacts like String.
func (c Config) GoString() string { return c.String() }

// MarshalYAML emits the config with the API key redacted.
func (c Config) MarshalYAML() (any, error) {
	type plain Config
	out := c
	out.APIKey = redactSecret(c.APIKey)
	return plain(out), nil
}

// MarshalJSON emits the config with the API key redacted.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	out := c
	out.APIKey = redactSecret(c.APIKey)
	return json.Marshal(plain(out))
}

func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Host == "" {
		switch c.Type {
		case "openai":
			c.Host = "https://api.openai.com/v1"
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		case "gemini":
			c.Host = "https://generativelanguage.googleapis.com"
		case "ollama":
			c.Host = "http://localhost:11434"
		}
	}
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fault.Configuration("llms.config", "model")
	}
	switch c.Type {
	case "openai", "anthropic", "gemini":
		if c.APIKey == "" {
			return fault.Configuration("llms.config", "api_key")
		}
	case "ollama":
	default:
		return fault.New(fault.KindConfiguration, "llms.config", "unknown provider type "+c.Type)
	}
	return nil
}

// NewProvider builds the adapter for the configured type.
func NewProvider(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fault.New(fault.KindConfiguration, "llms.new_provider", "unknown provider type "+cfg.Type)
	}
}
