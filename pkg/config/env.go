package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/rag"
	"github.com/loomlabs/loom/pkg/vector"
)

// Environment variables recognized by FromEnv. This is the whole surface;
// anything else is caller code.
const (
	EnvProvider       = "LOOM_PROVIDER"
	EnvBaseURL        = "LOOM_BASE_URL"
	EnvAPIKey         = "LOOM_API_KEY"
	EnvModel          = "LOOM_MODEL"
	EnvOrganizationID = "LOOM_ORGANIZATION_ID"
	EnvTimeoutMs      = "LOOM_TIMEOUT_MS"

	EnvEmbeddingProvider = "LOOM_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "LOOM_EMBEDDING_MODEL"
	EnvEmbeddingBaseURL  = "LOOM_EMBEDDING_BASE_URL"

	EnvTracingMode     = "LOOM_TRACING_MODE"
	EnvTracingEndpoint = "LOOM_TRACING_ENDPOINT"

	EnvVectorStorePath = "LOOM_VECTOR_STORE_PATH"
	EnvChunkSize       = "LOOM_CHUNK_SIZE"
	EnvChunkOverlap    = "LOOM_CHUNK_OVERLAP"
	EnvFusion          = "LOOM_FUSION"
	EnvTopK            = "LOOM_TOP_K"
)

// FromEnv builds the configuration from the process environment, loading a
// .env file first when one exists. Provider API keys fall back to the
// conventional per-provider variables.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	cfg.LLM.Type = os.Getenv(EnvProvider)
	cfg.LLM.Host = os.Getenv(EnvBaseURL)
	cfg.LLM.Model = os.Getenv(EnvModel)
	cfg.LLM.OrganizationID = os.Getenv(EnvOrganizationID)
	cfg.LLM.APIKey = os.Getenv(EnvAPIKey)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFallback(cfg.LLM.Type)
	}
	if ms := envInt(EnvTimeoutMs); ms > 0 {
		cfg.LLM.Timeout = (ms + 999) / 1000
	}

	cfg.Embedder.Type = os.Getenv(EnvEmbeddingProvider)
	cfg.Embedder.Model = os.Getenv(EnvEmbeddingModel)
	cfg.Embedder.Host = os.Getenv(EnvEmbeddingBaseURL)
	if cfg.Embedder.Type == "openai" {
		cfg.Embedder.APIKey = cfg.LLM.APIKey
		if key := providerKeyFallback("openai"); cfg.Embedder.APIKey == "" {
			cfg.Embedder.APIKey = key
		}
	}

	// SetDefaults maps the empty mode to none and langfuse to OTLP.
	cfg.Tracing.Mode = observability.TracingMode(os.Getenv(EnvTracingMode))
	cfg.Tracing.Endpoint = os.Getenv(EnvTracingEndpoint)

	if path := os.Getenv(EnvVectorStorePath); path != "" {
		cfg.Vector.Type = "chromem"
		cfg.Vector.Chromem = &vector.ChromemConfig{PersistPath: path}
	}
	if size := envInt(EnvChunkSize); size > 0 {
		cfg.Retrieval.Chunking.Size = size
	}
	if overlap := envInt(EnvChunkOverlap); overlap > 0 {
		cfg.Retrieval.Chunking.Overlap = overlap
	}
	if fusion := os.Getenv(EnvFusion); fusion != "" {
		cfg.Retrieval.Fusion = rag.FusionMode(fusion)
	}
	if topK := envInt(EnvTopK); topK > 0 {
		cfg.Retrieval.TopK = topK
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func providerKeyFallback(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
