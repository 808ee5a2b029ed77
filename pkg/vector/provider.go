// Package vector abstracts vector storage behind one provider contract.
// The chromem backend is embedded and zero-config; qdrant talks gRPC to an
// external server. Embedding happens upstream; providers only ever see
// pre-computed vectors.
package vector

import (
	"context"
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
)

// Document is one stored vector with its text and metadata.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Result is one search hit. Score is the backend's similarity, higher is
// closer.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Provider is the uniform vector storage contract.
type Provider interface {
	// Name returns the backend type ("chromem", "qdrant").
	Name() string

	// Upsert inserts or replaces documents in the collection. The
	// collection is created on first use.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns the topK nearest documents. A non-nil filter keeps
	// only documents whose metadata matches every entry.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes documents by id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, ids ...string) error

	// DeleteByFilter removes every document matching the metadata filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// DeleteCollection drops the collection and everything in it.
	DeleteCollection(ctx context.Context, collection string) error

	// Count reports the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Type string `yaml:"type" mapstructure:"type"`

	Chromem *ChromemConfig `yaml:"chromem,omitempty" mapstructure:"chromem"`
	Qdrant  *QdrantConfig  `yaml:"qdrant,omitempty" mapstructure:"qdrant"`
}

func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "chromem" && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

func (c *Config) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Qdrant == nil || c.Qdrant.Host == "" {
			return fault.Validation("vector.config", "qdrant.host", "qdrant host is required")
		}
		return nil
	default:
		return fault.Validation("vector.config", "type", fmt.Sprintf("unknown vector provider %q", c.Type))
	}
}

// NewProvider builds the backend the config selects.
func NewProvider(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "chromem":
		return NewChromemProvider(*cfg.Chromem)
	case "qdrant":
		return NewQdrantProvider(*cfg.Qdrant)
	default:
		return nil, fault.Validation("vector.new", "type", fmt.Sprintf("unknown vector provider %q", cfg.Type))
	}
}
