// Package embedder turns text into dense vectors. Backends share the batch
// contract: the output has one vector per input, in input order, and an
// empty batch returns without touching the network.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomlabs/loom/pkg/fault"
)

// Embedder is the uniform embedding contract. Implementations are safe for
// concurrent use.
type Embedder interface {
	// Name returns the backend type ("openai", "ollama").
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Dimension returns the vector width this embedder produces.
	Dimension() int

	// Embed embeds the texts in order. len(result) == len(texts) and every
	// vector has the same dimension.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	Close() error
}

// Config selects and tunes an embedding backend.
type Config struct {
	Type      string        `yaml:"type" mapstructure:"type"`
	Model     string        `yaml:"model" mapstructure:"model"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Host      string        `yaml:"host" mapstructure:"host"`
	Dimension int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// String renders the config with the API key redacted.
func (c Config) String() string {
	return fmt.Sprintf("Config{Type:%s Model:%s Host:%s APIKey:%s Dimension:%d BatchSize:%d Timeout:%s}",
		c.Type, c.Model, c.Host, redactSecret(c.APIKey), c.Dimension, c.BatchSize, c.Timeout)
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
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	switch c.Type {
	case "openai":
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
		if c.BatchSize == 0 {
			c.BatchSize = 100
		}
		if c.Dimension == 0 {
			c.Dimension = openaiModelDimension(c.Model)
		}
	case "ollama":
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
		if c.Host == "" {
			c.Host = "http://localhost:11434"
		}
		if c.BatchSize == 0 {
			c.BatchSize = 1
		}
		if c.Dimension == 0 {
			c.Dimension = 768
		}
	}
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fault.Validation("embedder.config", "model", "model is required")
	}
	switch c.Type {
	case "openai":
		if c.APIKey == "" {
			return &fault.Error{
				Kind:    fault.KindConfiguration,
				Op:      "embedder.config",
				Message: "api_key is required for openai embeddings",
				Keys:    []string{"api_key"},
			}
		}
	case "ollama":
	default:
		return fault.Validation("embedder.config", "type", fmt.Sprintf("unknown embedder type %q", c.Type))
	}
	return nil
}

// NewEmbedder builds the backend the config selects.
func NewEmbedder(cfg Config) (Embedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fault.Validation("embedder.new", "type", fmt.Sprintf("unknown embedder type %q", cfg.Type))
	}
}

func openaiModelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}
