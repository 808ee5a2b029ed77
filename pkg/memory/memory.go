// Package memory is the agent's append/search store. Entries are typed
// (knowledge, conversation, user facts, entity facts), carry an importance
// weight, and are searched semantically when a vector backend is configured
// or by keyword match otherwise.
package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/pkg/fault"
)

// Kind classifies what a memory entry holds.
type Kind string

const (
	KindKnowledge    Kind = "knowledge"
	KindConversation Kind = "conversation"
	KindUserFact     Kind = "user_fact"
	KindEntityFact   Kind = "entity_fact"
)

func (k Kind) valid() bool {
	switch k {
	case KindKnowledge, KindConversation, KindUserFact, KindEntityFact:
		return true
	}
	return false
}

// Entry is one stored memory. Embedding is optional on append; when present
// its dimension must match the store's declared dimension.
type Entry struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Kind       Kind              `json:"kind"`
	Source     string            `json:"source,omitempty"`
	ChunkIndex int               `json:"chunkIndex,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Importance float64           `json:"importance"`
	Embedding  []float32         `json:"-"`
}

func (e *Entry) validate(dimension int) error {
	if e.Content == "" {
		return fault.Validation("memory.append", "content", "content cannot be empty")
	}
	if !e.Kind.valid() {
		return fault.Validation("memory.append", "kind", fmt.Sprintf("unknown memory kind %q", e.Kind))
	}
	if e.Importance < 0 || e.Importance > 1 {
		return fault.Validation("memory.append", "importance", "importance must be within [0, 1]")
	}
	if len(e.Embedding) > 0 && dimension > 0 && len(e.Embedding) != dimension {
		return fault.Validation("memory.append", "embedding",
			fmt.Sprintf("embedding dimension %d does not match store dimension %d", len(e.Embedding), dimension))
	}
	return nil
}

// Result is one recall hit.
type Result struct {
	Entry Entry
	Score float64
}

// Filter narrows recall. The zero value matches everything.
type Filter struct {
	// Kind keeps only entries of this kind.
	Kind Kind

	// Metadata keeps only entries whose metadata contains every pair.
	Metadata map[string]string

	// MinImportance drops entries below the threshold.
	MinImportance float64
}

func (f Filter) matches(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if e.Importance < f.MinImportance {
		return false
	}
	for k, v := range f.Metadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Store is the memory contract.
type Store interface {
	// Append stores the entry and returns its id. A missing id is minted.
	Append(ctx context.Context, entry Entry) (string, error)

	// Search returns up to topK entries ranked by relevance to the query.
	Search(ctx context.Context, query string, topK int, filter Filter) ([]Result, error)

	// Delete removes entries by id. Missing ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count reports the number of stored entries.
	Count(ctx context.Context) (int, error)

	Close() error
}

func newEntryID() string {
	return "mem_" + uuid.NewString()
}
