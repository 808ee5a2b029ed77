package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/vector"
)

// axisEmbedder projects text onto fixed keyword axes. Deterministic, so
// similarity rankings in tests are predictable.
type axisEmbedder struct{}

var axisTerms = []string{"paris", "water", "cheese"}

func (axisEmbedder) Name() string   { return "axis" }
func (axisEmbedder) Model() string  { return "axis-1" }
func (axisEmbedder) Dimension() int { return len(axisTerms) + 1 }
func (axisEmbedder) Close() error   { return nil }

func (axisEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, len(axisTerms)+1)
		v[len(axisTerms)] = 0.1
		for j, term := range axisTerms {
			if strings.Contains(lower, term) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func newEngine(t *testing.T) *SearchEngine {
	t.Helper()
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	if err != nil {
		t.Fatal(err)
	}
	chunker, err := NewSimpleChunker(500, 0)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewSearchEngine(provider, axisEmbedder{}, chunker, NewCollectionTree())
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestIngestAndHybridSearch(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	docs := []Document{
		{ID: "travel", Content: "Paris is the capital of France."},
		{ID: "science", Content: "Water boils at one hundred degrees."},
		{ID: "food", Content: "Cheese pairs well with wine."},
	}
	for _, doc := range docs {
		if err := engine.Ingest(ctx, "/kb", doc); err != nil {
			t.Fatalf("ingest %s: %v", doc.ID, err)
		}
	}

	results, err := engine.Search(ctx, SearchRequest{Query: "paris capital", Collection: "/kb", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].DocID != "travel" {
		t.Errorf("top result = %s", results[0].DocID)
	}
	if results[0].Collection != "/kb" {
		t.Errorf("collection = %s", results[0].Collection)
	}
	if !strings.Contains(results[0].Content, "Paris") {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestSearchModes(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := engine.Ingest(ctx, "/kb", Document{ID: "a", Content: "water is wet"}); err != nil {
		t.Fatal(err)
	}

	for _, mode := range []FusionMode{FusionRRF, FusionWeighted, FusionVectorOnly, FusionKeywordOnly} {
		results, err := engine.Search(ctx, SearchRequest{Query: "water", Collection: "/kb", Fusion: mode})
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if len(results) != 1 || results[0].DocID != "a" {
			t.Errorf("%s: results = %+v", mode, results)
		}
	}
}

func TestSyncIdempotence(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	source := &StaticSource{Documents: []Document{
		{ID: "one", Content: "paris guide"},
		{ID: "two", Content: "water facts"},
		{ID: "three", Content: "cheese list"},
	}}

	first, err := engine.Sync(ctx, "/kb", source, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Added != 3 || first.Updated != 0 || first.Unchanged != 0 {
		t.Fatalf("first pass = %+v", first)
	}

	second, err := engine.Sync(ctx, "/kb", source, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Added != 0 || second.Updated != 0 || second.Deleted != 0 || second.Unchanged != 3 {
		t.Fatalf("second pass = %+v", second)
	}
}

func TestSyncDetectsChangesAndDeletions(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	initial := &StaticSource{Documents: []Document{
		{ID: "one", Content: "paris guide"},
		{ID: "two", Content: "water facts"},
	}}
	if _, err := engine.Sync(ctx, "/kb", initial, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	// one changed, two gone, three new.
	next := &StaticSource{Documents: []Document{
		{ID: "one", Content: "paris guide, second edition"},
		{ID: "three", Content: "cheese list"},
	}}
	stats, err := engine.Sync(ctx, "/kb", next, SyncOptions{DeleteMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 1 || stats.Updated != 1 || stats.Deleted != 1 || stats.Unchanged != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := engine.DocumentCount("/kb"); n != 2 {
		t.Errorf("document count = %d", n)
	}

	results, err := engine.Search(ctx, SearchRequest{Query: "water", Collection: "/kb", Fusion: FusionKeywordOnly})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("deleted document still searchable: %+v", results)
	}
}

func TestSyncReportsFailuresAndSkips(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	source := resultSource{
		LoadSuccess(Document{ID: "ok", Content: "paris"}),
		LoadFailure("broken.pdf", fault.Processing("extraction", "unreadable"), true),
		LoadSkipped("image.png", "binary file"),
	}
	stats, err := engine.Sync(ctx, "/kb", source, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 1 || stats.Failed != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	fatal := resultSource{
		LoadFailure("corrupt", fault.Processing("extraction", "bad"), false),
	}
	if _, err := engine.Sync(ctx, "/kb", fatal, SyncOptions{}); fault.KindOf(err) != fault.KindProcessing {
		t.Fatalf("unrecoverable failure: kind = %v", fault.KindOf(err))
	}
}

// resultSource replays a fixed sequence of load results.
type resultSource []LoadResult

func (s resultSource) Load(ctx context.Context) <-chan LoadResult {
	out := make(chan LoadResult, len(s))
	for _, res := range s {
		out <- res
	}
	close(out)
	return out
}

func TestReingestReplacesChunks(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := engine.Ingest(ctx, "/kb", Document{ID: "doc", Content: "original paris text"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.Ingest(ctx, "/kb", Document{ID: "doc", Content: "rewritten water text"}); err != nil {
		t.Fatal(err)
	}

	stale, err := engine.Search(ctx, SearchRequest{Query: "original", Collection: "/kb", Fusion: FusionKeywordOnly})
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("old version still indexed: %+v", stale)
	}

	fresh, err := engine.Search(ctx, SearchRequest{Query: "rewritten", Collection: "/kb", Fusion: FusionKeywordOnly})
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Fatalf("new version missing: %+v", fresh)
	}
}

func TestPermissionFilteredSearch(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	tree := engine.Collections()
	if _, err := tree.Create("/docs", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Create("/docs/secret", []string{"7"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Create("/docs/secret/public", nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := engine.Ingest(ctx, "/docs/secret", Document{ID: "s1", Content: "paris launch plan"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.Ingest(ctx, "/docs/secret/public", Document{ID: "p1", Content: "paris press release"}); err != nil {
		t.Fatal(err)
	}

	deny, err := engine.Search(ctx, SearchRequest{
		Query: "paris", Collection: "/docs",
		Auth: Authorization{PrincipalIDs: []string{"9"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(deny) != 0 {
		t.Fatalf("principal 9 saw restricted chunks: %+v", deny)
	}

	allow, err := engine.Search(ctx, SearchRequest{
		Query: "paris", Collection: "/docs",
		Auth: Authorization{PrincipalIDs: []string{"7"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, r := range allow {
		seen[r.DocID] = true
	}
	if !seen["s1"] || !seen["p1"] {
		t.Fatalf("principal 7 results = %+v", allow)
	}

	admin, err := engine.Search(ctx, SearchRequest{
		Query: "paris", Collection: "/docs",
		Auth: Authorization{IsAdmin: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(admin) != 2 {
		t.Fatalf("admin results = %+v", admin)
	}
}

func TestSearchValidation(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	if _, err := engine.Search(ctx, SearchRequest{Query: ""}); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("empty query: kind = %v", fault.KindOf(err))
	}
	if _, err := engine.Search(ctx, SearchRequest{Query: "x", Collection: "/missing"}); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("unknown collection: kind = %v", fault.KindOf(err))
	}
}

func TestDeleteCollectionRequiresEmpty(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := engine.Ingest(ctx, "/kb", Document{ID: "doc", Content: "paris"}); err != nil {
		t.Fatal(err)
	}

	if err := engine.DeleteCollection(ctx, "/kb"); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("non-empty collection deleted: kind = %v", fault.KindOf(err))
	}
	if err := engine.DeleteDocument(ctx, "/kb", "doc"); err != nil {
		t.Fatal(err)
	}
	if err := engine.DeleteCollection(ctx, "/kb"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Collections().Get("/kb"); err == nil {
		t.Error("collection still present after delete")
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.Collections().Create("/kb", nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := engine.Ingest(ctx, "/kb", Document{ID: "empty", Content: ""}); err != nil {
		t.Fatal(err)
	}
	if n := engine.DocumentCount("/kb"); n != 1 {
		t.Errorf("document count = %d", n)
	}
	results, err := engine.Search(ctx, SearchRequest{Query: "anything", Collection: "/kb"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("empty document produced chunks: %+v", results)
	}
}
