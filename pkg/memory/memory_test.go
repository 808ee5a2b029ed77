package memory

import (
	"context"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/vector"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Name() string   { return "stub" }
func (e *stubEmbedder) Model() string  { return "stub-1" }
func (e *stubEmbedder) Dimension() int { return 3 }
func (e *stubEmbedder) Close() error   { return nil }

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 1, 1}
		}
	}
	return out, nil
}

func newVectorStore(t *testing.T) *VectorStore {
	t.Helper()
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	if err != nil {
		t.Fatal(err)
	}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"the capital of France is Paris": {1, 0, 0},
		"water boils at 100C":            {0, 1, 0},
		"user prefers dark mode":         {0, 0, 1},
		"capital of France?":             {0.9, 0.1, 0},
	}}
	store, err := NewVectorStore(provider, emb, "test")
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestVectorStoreAppendAndRecall(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Content: "the capital of France is Paris", Kind: KindKnowledge, Importance: 0.8},
		{Content: "water boils at 100C", Kind: KindKnowledge, Importance: 0.5},
		{Content: "user prefers dark mode", Kind: KindUserFact, Importance: 0.9,
			Metadata: map[string]string{"userId": "u1"}},
	}
	for _, e := range entries {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	results, err := store.Search(ctx, "capital of France?", 2, Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Entry.Content != "the capital of France is Paris" {
		t.Errorf("top hit = %q", results[0].Entry.Content)
	}
	if results[0].Entry.Kind != KindKnowledge || results[0].Entry.Importance != 0.8 {
		t.Errorf("entry fields did not round-trip: %+v", results[0].Entry)
	}
}

func TestVectorStoreKindFilter(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{Content: "the capital of France is Paris", Kind: KindKnowledge, Importance: 0.5},
		{Content: "user prefers dark mode", Kind: KindUserFact, Importance: 0.5,
			Metadata: map[string]string{"userId": "u1"}},
	} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Search(ctx, "capital of France?", 10, Filter{Kind: KindUserFact})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Entry.Kind != KindUserFact {
			t.Errorf("got kind %s with a user_fact filter", r.Entry.Kind)
		}
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Entry.Metadata["userId"] != "u1" {
		t.Errorf("metadata did not round-trip: %+v", results[0].Entry.Metadata)
	}
}

func TestVectorStoreImportanceThreshold(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{Content: "the capital of France is Paris", Kind: KindKnowledge, Importance: 0.9},
		{Content: "water boils at 100C", Kind: KindKnowledge, Importance: 0.1},
	} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Search(ctx, "capital of France?", 10, Filter{MinImportance: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Entry.Importance < 0.5 {
			t.Errorf("entry below threshold leaked: %+v", r.Entry)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	cases := map[string]Entry{
		"empty content":  {Kind: KindKnowledge},
		"bad kind":       {Content: "x", Kind: "opinions"},
		"importance > 1": {Content: "x", Kind: KindKnowledge, Importance: 1.5},
		"wrong dimension": {Content: "x", Kind: KindKnowledge,
			Embedding: []float32{1, 2, 3, 4, 5}},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Append(ctx, entry)
			if fault.KindOf(err) != fault.KindValidation {
				t.Fatalf("kind = %v, want validation", fault.KindOf(err))
			}
		})
	}
}

func TestKeywordStoreRecall(t *testing.T) {
	store := NewKeywordStore()
	ctx := context.Background()

	id1, err := store.Append(ctx, Entry{Content: "deploy pipeline failed on staging", Kind: KindConversation, Importance: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, Entry{Content: "lunch menu for tuesday", Kind: KindConversation, Importance: 0.5}); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "staging deploy", 5, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entry.ID != id1 {
		t.Fatalf("results = %+v", results)
	}

	// Importance boosts ranking for equal overlap.
	lowID, _ := store.Append(ctx, Entry{Content: "release notes draft", Kind: KindKnowledge, Importance: 0.1})
	highID, _ := store.Append(ctx, Entry{Content: "release notes final", Kind: KindKnowledge, Importance: 0.9})
	results, err = store.Search(ctx, "release notes", 2, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Entry.ID != highID || results[1].Entry.ID != lowID {
		t.Fatalf("importance did not break the tie: %+v", results)
	}
}

func TestKeywordStoreDeleteAndCount(t *testing.T) {
	store := NewKeywordStore()
	ctx := context.Background()

	id, err := store.Append(ctx, Entry{Content: "ephemeral note", Kind: KindKnowledge})
	if err != nil {
		t.Fatal(err)
	}
	if count, _ := store.Count(ctx); count != 1 {
		t.Fatalf("count = %d", count)
	}
	if err := store.Delete(ctx, id, "missing-id"); err != nil {
		t.Fatal(err)
	}
	if count, _ := store.Count(ctx); count != 0 {
		t.Fatalf("count after delete = %d", count)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	for _, store := range []Store{NewKeywordStore(), newVectorStore(t)} {
		results, err := store.Search(context.Background(), "", 5, Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("empty query returned %d results", len(results))
		}
	}
}
