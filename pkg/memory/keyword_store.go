package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// KeywordStore is the in-process fallback when no vector backend is
// configured. Recall scores by word overlap weighted by importance; fast but
// not semantic.
type KeywordStore struct {
	mu      sync.RWMutex
	entries map[string]keywordEntry
}

type keywordEntry struct {
	entry Entry
	words map[string]bool
}

func NewKeywordStore() *KeywordStore {
	return &KeywordStore{entries: make(map[string]keywordEntry)}
}

func (s *KeywordStore) Append(ctx context.Context, entry Entry) (string, error) {
	if err := entry.validate(0); err != nil {
		return "", err
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = keywordEntry{entry: entry, words: tokenSet(entry.Content)}
	return entry.ID, nil
}

func (s *KeywordStore) Search(ctx context.Context, query string, topK int, filter Filter) ([]Result, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}
	queryWords := tokenSet(query)
	if len(queryWords) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Result
	for _, ke := range s.entries {
		if !filter.matches(ke.entry) {
			continue
		}
		matched := 0
		for word := range queryWords {
			if ke.words[word] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		overlap := float64(matched) / float64(len(queryWords))
		results = append(results, Result{
			Entry: ke.entry,
			Score: overlap * (0.5 + ke.entry.Importance/2),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *KeywordStore) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *KeywordStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *KeywordStore) Close() error { return nil }

func tokenSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 1 {
			set[w] = true
		}
	}
	return set
}

var _ Store = (*KeywordStore)(nil)
