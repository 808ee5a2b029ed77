package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/embedder"
	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/vector"
)

// Reserved chunk metadata keys in the vector backend.
const (
	chunkMetaDocID      = "docId"
	chunkMetaChunkIndex = "chunkIndex"
	chunkMetaCollection = "collection"
)

// SearchRequest describes one hybrid search.
type SearchRequest struct {
	Query string

	// Collection is the root path to search; the request covers it and all
	// descendants the caller may query. Empty means every collection.
	Collection string

	// TopK bounds the result count. Default 10.
	TopK int

	// Fusion selects the ranking combination. Default FusionRRF.
	Fusion FusionMode

	// VectorWeight and KeywordWeight apply to FusionWeighted. Defaults 0.7
	// and 0.3.
	VectorWeight  float64
	KeywordWeight float64

	// Filter restricts results to chunks whose metadata contains every pair.
	Filter map[string]string

	Auth Authorization
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	DocID      string            `json:"docId"`
	ChunkIndex int               `json:"chunkIndex"`
	Content    string            `json:"content"`
	Collection string            `json:"collection,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score"`
}

// SyncStats reports what one sync pass changed. Failed and Skipped count
// loader results that produced no document.
type SyncStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SyncOptions tunes a sync pass.
type SyncOptions struct {
	// DeleteMissing removes documents present in the store but absent from
	// the source. Off by default.
	DeleteMissing bool
}

type docRecord struct {
	hash   string
	chunks int
}

// SearchEngine is the retrieval pipeline: it chunks and embeds documents into
// a vector backend, mirrors them into a per-collection BM25 index, and serves
// hybrid searches scoped by the collection permission tree.
type SearchEngine struct {
	vectors     vector.Provider
	embedder    embedder.Embedder
	chunker     Chunker
	collections *CollectionTree

	// mu guards catalog and keyword and serializes the delete-then-insert
	// window of a document replace, keeping replacement atomic per document.
	mu      sync.Mutex
	keyword map[string]*keywordIndex
	catalog map[string]map[string]docRecord
}

func NewSearchEngine(vectors vector.Provider, emb embedder.Embedder, chunker Chunker, collections *CollectionTree) (*SearchEngine, error) {
	if vectors == nil {
		return nil, fault.Validation("rag.new", "vectors", "vector provider is required")
	}
	if emb == nil {
		return nil, fault.Validation("rag.new", "embedder", "embedder is required")
	}
	if chunker == nil {
		chunker = &SimpleChunker{size: 1000, overlap: 200}
	}
	if collections == nil {
		collections = NewCollectionTree()
	}
	return &SearchEngine{
		vectors:     vectors,
		embedder:    emb,
		chunker:     chunker,
		collections: collections,
		keyword:     make(map[string]*keywordIndex),
		catalog:     make(map[string]map[string]docRecord),
	}, nil
}

// Collections exposes the permission tree for collection management.
func (e *SearchEngine) Collections() *CollectionTree {
	return e.collections
}

// vectorCollection maps a collection path to a backend collection name.
func vectorCollection(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", ".")
}

// Ingest chunks, embeds and stores one document. Re-ingesting a document
// whose content hash matches the stored version is a no-op; a changed hash
// replaces all chunks of the prior version atomically.
func (e *SearchEngine) Ingest(ctx context.Context, collection string, doc Document) error {
	changed, err := e.ingest(ctx, collection, doc)
	if err != nil {
		return err
	}
	if changed {
		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordIngest(ctx, 1, 0, 0)
		}
	}
	return nil
}

func (e *SearchEngine) ingest(ctx context.Context, collection string, doc Document) (changed bool, err error) {
	if doc.ID == "" {
		return false, fault.Validation("rag.ingest", "id", "document id cannot be empty")
	}
	if _, err := e.collections.Get(collection); err != nil {
		return false, err
	}

	hash := doc.Version.ContentHash
	if hash == "" {
		hash = HashContent(doc.Content)
	}

	e.mu.Lock()
	if rec, ok := e.catalog[collection][doc.ID]; ok && rec.hash == hash {
		e.mu.Unlock()
		return false, nil
	}
	e.mu.Unlock()

	tracer := observability.GetTracer("loom.rag")
	ctx, span := tracer.Start(ctx, observability.SpanIngest,
		trace.WithAttributes(attribute.String(observability.AttrDocumentID, doc.ID)),
	)
	defer span.End()

	texts, err := e.chunker.Chunk(doc.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fault.Wrap(fault.KindProcessing, "rag.ingest", err)
	}

	var embeddings [][]float32
	if len(texts) > 0 {
		embeddings, err = e.embedder.Embed(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if len(embeddings) != len(texts) {
			err = fault.Processing("embedding",
				fmt.Sprintf("embedded %d chunks, expected %d", len(embeddings), len(texts)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
	}

	docs := make([]vector.Document, len(texts))
	for i, text := range texts {
		metadata := map[string]any{
			chunkMetaDocID:      doc.ID,
			chunkMetaChunkIndex: strconv.Itoa(i),
			chunkMetaCollection: collection,
		}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		docs[i] = vector.Document{
			ID:       fmt.Sprintf("%s#%d", doc.ID, i),
			Content:  text,
			Vector:   embeddings[i],
			Metadata: metadata,
		}
	}

	vcol := vectorCollection(collection)

	e.mu.Lock()
	defer e.mu.Unlock()

	if rec, ok := e.catalog[collection][doc.ID]; ok && rec.chunks > 0 {
		if err := e.vectors.DeleteByFilter(ctx, vcol, map[string]any{chunkMetaDocID: doc.ID}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
	}
	if len(docs) > 0 {
		if err := e.vectors.Upsert(ctx, vcol, docs); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
	}

	idx, ok := e.keyword[collection]
	if !ok {
		idx = newKeywordIndex()
		e.keyword[collection] = idx
	}
	idx.RemoveDocument(doc.ID)
	for i, text := range texts {
		metadata := map[string]string{chunkMetaCollection: collection}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		idx.Add(chunkKey{DocID: doc.ID, Index: i}, text, metadata)
	}

	if e.catalog[collection] == nil {
		e.catalog[collection] = make(map[string]docRecord)
	}
	e.catalog[collection][doc.ID] = docRecord{hash: hash, chunks: len(texts)}

	span.SetAttributes(attribute.Int("ingest.chunks", len(texts)))
	span.SetStatus(codes.Ok, "")
	slog.Debug("Ingested document", "collection", collection, "document", doc.ID, "chunks", len(texts))
	return true, nil
}

// Sync drains the source into the collection. Documents whose content hash
// matches the stored version are left alone; changed documents are replaced;
// documents missing from the source are deleted when opted in. Running the
// same source twice leaves the second pass fully unchanged.
func (e *SearchEngine) Sync(ctx context.Context, collection string, source DocumentSource, opts SyncOptions) (SyncStats, error) {
	var stats SyncStats
	if source == nil {
		return stats, fault.Validation("rag.sync", "source", "document source is required")
	}
	if _, err := e.collections.Get(collection); err != nil {
		return stats, err
	}

	seen := make(map[string]bool)
	for res := range source.Load(ctx) {
		if ctx.Err() != nil {
			return stats, fault.Cancelled("rag.sync")
		}
		switch {
		case res.Skipped:
			stats.Skipped++
			slog.Debug("Skipped source document", "source", res.Source, "reason", res.Reason)
		case res.Err != nil:
			if !res.Recoverable {
				return stats, fault.Wrap(fault.KindProcessing, "rag.sync", res.Err)
			}
			stats.Failed++
			slog.Warn("Failed to load document", "source", res.Source, "error", res.Err)
		case res.Document != nil:
			doc := *res.Document
			seen[doc.ID] = true

			hash := doc.Version.ContentHash
			if hash == "" {
				hash = HashContent(doc.Content)
			}
			e.mu.Lock()
			rec, existed := e.catalog[collection][doc.ID]
			e.mu.Unlock()

			switch {
			case existed && rec.hash == hash:
				stats.Unchanged++
			case existed:
				if _, err := e.ingest(ctx, collection, doc); err != nil {
					return stats, err
				}
				stats.Updated++
			default:
				if _, err := e.ingest(ctx, collection, doc); err != nil {
					return stats, err
				}
				stats.Added++
			}
		}
	}

	if opts.DeleteMissing {
		e.mu.Lock()
		var stale []string
		for docID := range e.catalog[collection] {
			if !seen[docID] {
				stale = append(stale, docID)
			}
		}
		e.mu.Unlock()
		for _, docID := range stale {
			if err := e.DeleteDocument(ctx, collection, docID); err != nil {
				return stats, err
			}
			stats.Deleted++
		}
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordIngest(ctx, stats.Added, stats.Updated, stats.Deleted)
	}
	slog.Info("Collection sync complete", "collection", collection,
		"added", stats.Added, "updated", stats.Updated,
		"deleted", stats.Deleted, "unchanged", stats.Unchanged)
	return stats, nil
}

// DeleteDocument removes a document and all its chunks.
func (e *SearchEngine) DeleteDocument(ctx context.Context, collection, docID string) error {
	if _, err := e.collections.Get(collection); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.vectors.DeleteByFilter(ctx, vectorCollection(collection), map[string]any{chunkMetaDocID: docID}); err != nil {
		return err
	}
	if idx, ok := e.keyword[collection]; ok {
		idx.RemoveDocument(docID)
	}
	delete(e.catalog[collection], docID)
	return nil
}

// DocumentCount reports the number of documents stored in the collection.
func (e *SearchEngine) DocumentCount(collection string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.catalog[collection])
}

// DeleteCollection removes an empty collection. Collections still holding
// documents or child collections are refused.
func (e *SearchEngine) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := e.collections.Get(collection); err != nil {
		return err
	}
	if n := e.DocumentCount(collection); n > 0 {
		return fault.Validation("rag.collections", "path",
			fmt.Sprintf("collection %q still holds %d documents", collection, n))
	}
	if err := e.collections.Delete(collection); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.keyword, collection)
	delete(e.catalog, collection)
	return e.vectors.DeleteCollection(ctx, vectorCollection(collection))
}

// Search runs a hybrid search over every collection under the requested path
// that the caller may query and returns results ordered by descending fused
// score.
func (e *SearchEngine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.Query == "" {
		return nil, fault.Validation("rag.search", "query", "query cannot be empty")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Fusion == "" {
		req.Fusion = FusionRRF
	}
	if req.VectorWeight == 0 && req.KeywordWeight == 0 {
		req.VectorWeight, req.KeywordWeight = 0.7, 0.3
	}

	start := time.Now()
	tracer := observability.GetTracer("loom.rag")
	ctx, span := tracer.Start(ctx, observability.SpanSearch,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchQuery, req.Query),
			attribute.Int(observability.AttrSearchTopK, req.TopK),
			attribute.String("search.fusion", string(req.Fusion)),
		),
	)
	defer span.End()

	targets, err := e.visibleCollections(req.Collection, req.Auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(targets) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	var vectorHits, keywordHits []rankedHit
	if req.Fusion != FusionKeywordOnly {
		vectorHits, err = e.vectorSearch(ctx, targets, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	if req.Fusion != FusionVectorOnly {
		keywordHits = e.keywordSearch(targets, req)
	}

	var results []SearchResult
	switch req.Fusion {
	case FusionVectorOnly:
		results = hitsToResults(vectorHits)
	case FusionKeywordOnly:
		results = hitsToResults(keywordHits)
	case FusionWeighted:
		results = fuseWeighted(req.VectorWeight, req.KeywordWeight, vectorHits, keywordHits)
	default:
		results = fuseRRF(vectorHits, keywordHits)
	}
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordSearch(ctx, string(req.Fusion), time.Since(start), len(results))
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// visibleCollections resolves the request path to the collections the caller
// may query.
func (e *SearchEngine) visibleCollections(path string, auth Authorization) ([]string, error) {
	var candidates []string
	if path == "" {
		candidates = e.collections.List()
	} else {
		if _, err := e.collections.Get(path); err != nil {
			return nil, err
		}
		candidates = e.collections.Subtree(path)
	}

	var visible []string
	for _, c := range candidates {
		ok, err := e.collections.CanQuery(c, auth)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

func (e *SearchEngine) vectorSearch(ctx context.Context, collections []string, req SearchRequest) ([]rankedHit, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}

	filter := make(map[string]any, len(req.Filter))
	for k, v := range req.Filter {
		filter[k] = v
	}

	var hits []rankedHit
	for _, collection := range collections {
		found, err := e.vectors.Search(ctx, vectorCollection(collection), embeddings[0], req.TopK, filter)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			hit, ok := resultFromVectorHit(f, collection)
			if !ok {
				continue
			}
			hits = append(hits, hit)
		}
	}
	sortHits(hits)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

func (e *SearchEngine) keywordSearch(collections []string, req SearchRequest) []rankedHit {
	e.mu.Lock()
	indexes := make([]*keywordIndex, 0, len(collections))
	paths := make([]string, 0, len(collections))
	for _, c := range collections {
		if idx, ok := e.keyword[c]; ok {
			indexes = append(indexes, idx)
			paths = append(paths, c)
		}
	}
	e.mu.Unlock()

	var hits []rankedHit
	for i, idx := range indexes {
		for _, hit := range idx.Search(req.Query, req.TopK, req.Filter) {
			hit.result.Collection = paths[i]
			hits = append(hits, hit)
		}
	}
	sortHits(hits)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits
}

func resultFromVectorHit(f vector.Result, collection string) (rankedHit, bool) {
	docID, _ := f.Metadata[chunkMetaDocID].(string)
	if docID == "" {
		return rankedHit{}, false
	}
	chunkIndex := 0
	if s, ok := f.Metadata[chunkMetaChunkIndex].(string); ok {
		chunkIndex, _ = strconv.Atoi(s)
	}
	metadata := make(map[string]string)
	for k, v := range f.Metadata {
		if k == chunkMetaDocID || k == chunkMetaChunkIndex {
			continue
		}
		if s, ok := v.(string); ok {
			metadata[k] = s
		}
	}
	key := chunkKey{DocID: docID, Index: chunkIndex}
	return rankedHit{
		key:   key,
		score: float64(f.Score),
		result: SearchResult{
			DocID:      docID,
			ChunkIndex: chunkIndex,
			Content:    f.Content,
			Collection: collection,
			Metadata:   metadata,
			Score:      float64(f.Score),
		},
	}, true
}

func hitsToResults(hits []rankedHit) []SearchResult {
	out := make([]SearchResult, len(hits))
	for i, hit := range hits {
		out[i] = hit.result
	}
	return out
}

func sortHits(hits []rankedHit) {
	sort.Slice(hits, func(i, j int) bool { return lessHit(hits[i], hits[j]) })
}
