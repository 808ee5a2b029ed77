// Package config holds the typed configuration surface. The core packages
// accept these values directly; environment and file access happen only here,
// at the application edge.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/loomlabs/loom/pkg/embedder"
	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/llms"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/rag"
	"github.com/loomlabs/loom/pkg/vector"
)

// Config is the root configuration.
type Config struct {
	LLM       llms.Config                `yaml:"llm" mapstructure:"llm"`
	Embedder  embedder.Config            `yaml:"embedder" mapstructure:"embedder"`
	Vector    vector.Config              `yaml:"vector" mapstructure:"vector"`
	Tracing   observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
	Retrieval RetrievalConfig            `yaml:"retrieval" mapstructure:"retrieval"`
}

// RetrievalConfig tunes the search pipeline.
type RetrievalConfig struct {
	Chunking rag.ChunkerConfig `yaml:"chunking" mapstructure:"chunking"`

	// Fusion selects the hybrid ranking mode. Default "rrf".
	Fusion rag.FusionMode `yaml:"fusion,omitempty" mapstructure:"fusion"`

	// TopK is the default result count. Default 10.
	TopK int `yaml:"topK,omitempty" mapstructure:"topK"`
}

func (c *RetrievalConfig) SetDefaults() {
	c.Chunking.SetDefaults()
	if c.Fusion == "" {
		c.Fusion = rag.FusionRRF
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
}

func (c *RetrievalConfig) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	switch c.Fusion {
	case rag.FusionRRF, rag.FusionWeighted, rag.FusionVectorOnly, rag.FusionKeywordOnly:
		return nil
	default:
		return fault.New(fault.KindConfiguration, "config.retrieval",
			fmt.Sprintf("unknown fusion mode %q", c.Fusion))
	}
}

// SetDefaults fills in defaults section by section. The embedder section is
// left alone when unconfigured so that setups without embeddings do not pick
// up a provider requiring credentials.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	if c.Embedder.Type != "" || c.Embedder.Model != "" {
		c.Embedder.SetDefaults()
	}
	c.Vector.SetDefaults()
	c.Tracing.SetDefaults()
	c.Retrieval.SetDefaults()
}

// Validate checks every section. The LLM section is only validated when a
// provider type is set, so retrieval-only setups stay valid.
func (c *Config) Validate() error {
	if c.LLM.Type != "" {
		if err := c.LLM.Validate(); err != nil {
			return err
		}
	}
	if c.Embedder.Type != "" {
		if err := c.Embedder.Validate(); err != nil {
			return err
		}
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	switch c.Tracing.Mode {
	case observability.TracingNone, observability.TracingOTLP, observability.TracingConsole:
		return nil
	default:
		return fault.New(fault.KindConfiguration, "config.tracing",
			fmt.Sprintf("unknown tracing mode %q", c.Tracing.Mode))
	}
}

// FromYAML parses a YAML document, applies defaults and validates.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.yaml", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromMap decodes a map-shaped configuration, applies defaults and validates.
func FromMap(raw map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.map", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "config.map", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
