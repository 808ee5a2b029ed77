package rag

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters, the usual defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// chunkKey identifies one indexed chunk.
type chunkKey struct {
	DocID string
	Index int
}

type kwChunk struct {
	key      chunkKey
	content  string
	metadata map[string]string
	terms    map[string]int
	length   int
}

// keywordIndex is an in-process BM25 index over chunks. One instance per
// collection; writes go through the engine which serializes per document.
type keywordIndex struct {
	mu         sync.RWMutex
	chunks     map[chunkKey]*kwChunk
	docFreq    map[string]int
	totalTerms int
}

func newKeywordIndex() *keywordIndex {
	return &keywordIndex{
		chunks:  make(map[chunkKey]*kwChunk),
		docFreq: make(map[string]int),
	}
}

func (idx *keywordIndex) Add(key chunkKey, content string, metadata map[string]string) {
	terms := termFrequencies(content)
	length := 0
	for _, n := range terms {
		length += n
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.chunks[key]; ok {
		idx.removeLocked(old)
	}
	c := &kwChunk{key: key, content: content, metadata: metadata, terms: terms, length: length}
	idx.chunks[key] = c
	for term := range terms {
		idx.docFreq[term]++
	}
	idx.totalTerms += length
}

func (idx *keywordIndex) RemoveDocument(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, c := range idx.chunks {
		if key.DocID == docID {
			idx.removeLocked(c)
		}
	}
}

func (idx *keywordIndex) removeLocked(c *kwChunk) {
	delete(idx.chunks, c.key)
	for term := range c.terms {
		if idx.docFreq[term] <= 1 {
			delete(idx.docFreq, term)
		} else {
			idx.docFreq[term]--
		}
	}
	idx.totalTerms -= c.length
}

func (idx *keywordIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Search scores every chunk sharing a term with the query and returns the
// topK by BM25 score. Filter entries must match chunk metadata exactly.
func (idx *keywordIndex) Search(query string, topK int, filter map[string]string) []rankedHit {
	queryTerms := termFrequencies(query)
	if len(queryTerms) == 0 || topK <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.chunks) == 0 {
		return nil
	}
	avgLen := float64(idx.totalTerms) / float64(len(idx.chunks))
	if avgLen == 0 {
		avgLen = 1
	}
	total := float64(len(idx.chunks))

	var hits []rankedHit
	for _, c := range idx.chunks {
		if !metadataMatches(c.metadata, filter) {
			continue
		}
		score := 0.0
		for term := range queryTerms {
			tf := float64(c.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (total-df+0.5)/(df+0.5))
			norm := bm25K1 * (1 - bm25B + bm25B*float64(c.length)/avgLen)
			score += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
		if score == 0 {
			continue
		}
		hits = append(hits, rankedHit{
			key:   c.key,
			score: score,
			result: SearchResult{
				DocID:      c.key.DocID,
				ChunkIndex: c.key.Index,
				Content:    c.content,
				Metadata:   c.metadata,
				Score:      score,
			},
		})
	}

	sort.Slice(hits, func(i, j int) bool { return lessHit(hits[i], hits[j]) })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func metadataMatches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func termFrequencies(text string) map[string]int {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := make(map[string]int, len(words))
	for _, w := range words {
		if len(w) > 1 {
			terms[w]++
		}
	}
	return terms
}
