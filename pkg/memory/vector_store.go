package memory

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/embedder"
	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/vector"
)

// Reserved metadata keys used to round-trip entry fields through the vector
// backend; caller metadata is namespaced under metaKeyPrefix.
const (
	metaKind       = "kind"
	metaSource     = "source"
	metaImportance = "importance"
	metaChunkIndex = "chunkIndex"
	metaKeyPrefix  = "meta."
)

// VectorStore keeps memories in a vector collection and recalls them by
// embedding similarity.
type VectorStore struct {
	provider   vector.Provider
	embedder   embedder.Embedder
	collection string
}

func NewVectorStore(provider vector.Provider, emb embedder.Embedder, collection string) (*VectorStore, error) {
	if provider == nil {
		return nil, fault.Validation("memory.new", "provider", "vector provider is required")
	}
	if emb == nil {
		return nil, fault.Validation("memory.new", "embedder", "embedder is required")
	}
	if collection == "" {
		collection = "memory"
	}
	return &VectorStore{provider: provider, embedder: emb, collection: collection}, nil
}

func (s *VectorStore) Append(ctx context.Context, entry Entry) (string, error) {
	if err := entry.validate(s.embedder.Dimension()); err != nil {
		return "", err
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}

	if len(entry.Embedding) == 0 {
		vectors, err := s.embedder.Embed(ctx, []string{entry.Content})
		if err != nil {
			return "", err
		}
		entry.Embedding = vectors[0]
	}

	metadata := map[string]any{
		metaKind:       string(entry.Kind),
		metaImportance: strconv.FormatFloat(entry.Importance, 'f', -1, 64),
	}
	if entry.Source != "" {
		metadata[metaSource] = entry.Source
	}
	if entry.ChunkIndex > 0 {
		metadata[metaChunkIndex] = strconv.Itoa(entry.ChunkIndex)
	}
	for k, v := range entry.Metadata {
		metadata[metaKeyPrefix+k] = v
	}

	err := s.provider.Upsert(ctx, s.collection, []vector.Document{{
		ID:       entry.ID,
		Content:  entry.Content,
		Vector:   entry.Embedding,
		Metadata: metadata,
	}})
	if err != nil {
		return "", err
	}
	slog.Debug("Appended memory entry", "id", entry.ID, "kind", entry.Kind)
	return entry.ID, nil
}

func (s *VectorStore) Search(ctx context.Context, query string, topK int, filter Filter) ([]Result, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}

	tracer := observability.GetTracer("loom.memory")
	ctx, span := tracer.Start(ctx, observability.SpanMemoryRecall,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchQuery, query),
			attribute.Int(observability.AttrSearchTopK, topK),
		),
	)
	defer span.End()

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Kind and metadata equality push down to the backend; the importance
	// threshold is applied after, so over-fetch when one is set.
	providerFilter := map[string]any{}
	if filter.Kind != "" {
		providerFilter[metaKind] = string(filter.Kind)
	}
	for k, v := range filter.Metadata {
		providerFilter[metaKeyPrefix+k] = v
	}
	fetch := topK
	if filter.MinImportance > 0 {
		fetch = topK * 4
	}

	hits, err := s.provider.Search(ctx, s.collection, vectors[0], fetch, providerFilter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		entry := entryFromDocument(hit)
		if !filter.matches(entry) {
			continue
		}
		results = append(results, Result{Entry: entry, Score: float64(hit.Score)})
		if len(results) == topK {
			break
		}
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

func (s *VectorStore) Delete(ctx context.Context, ids ...string) error {
	return s.provider.Delete(ctx, s.collection, ids...)
}

func (s *VectorStore) Count(ctx context.Context) (int, error) {
	return s.provider.Count(ctx, s.collection)
}

func (s *VectorStore) Close() error {
	return s.provider.Close()
}

func entryFromDocument(hit vector.Result) Entry {
	entry := Entry{
		ID:      hit.ID,
		Content: hit.Content,
	}
	metadata := make(map[string]string)
	for k, v := range hit.Metadata {
		str, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == metaKind:
			entry.Kind = Kind(str)
		case k == metaSource:
			entry.Source = str
		case k == metaImportance:
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				entry.Importance = f
			}
		case k == metaChunkIndex:
			if n, err := strconv.Atoi(str); err == nil {
				entry.ChunkIndex = n
			}
		case strings.HasPrefix(k, metaKeyPrefix):
			metadata[strings.TrimPrefix(k, metaKeyPrefix)] = str
		}
	}
	if len(metadata) > 0 {
		entry.Metadata = metadata
	}
	return entry
}

var _ Store = (*VectorStore)(nil)
