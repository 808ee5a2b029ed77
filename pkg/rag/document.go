// Package rag is the retrieval pipeline: documents are loaded from a source,
// chunked, embedded, indexed in a vector backend and a lexical index, and
// searched with hybrid fusion under permission-scoped collections.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is the unit of ingestion. The version hash keys change detection;
// when absent it is computed from the content.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Version  Version           `json:"version"`
}

// Version identifies a document revision.
type Version struct {
	ContentHash string    `json:"contentHash,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	ETag        string    `json:"etag,omitempty"`
}

// HashContent returns the canonical content hash used for sync change
// detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LoadResult is one item from a document source: a document, a skip, or a
// failure. Failures marked recoverable do not abort the sync.
type LoadResult struct {
	Document    *Document
	Source      string
	Err         error
	Recoverable bool
	Skipped     bool
	Reason      string
}

func LoadSuccess(doc Document) LoadResult {
	return LoadResult{Document: &doc, Source: doc.ID}
}

func LoadFailure(source string, err error, recoverable bool) LoadResult {
	return LoadResult{Source: source, Err: err, Recoverable: recoverable}
}

func LoadSkipped(source, reason string) LoadResult {
	return LoadResult{Source: source, Skipped: true, Reason: reason}
}

// DocumentSource yields documents to ingest. Load returns a channel that is
// closed when the source is exhausted or the context is cancelled; sources
// own content reading, the pipeline owns chunking and indexing.
type DocumentSource interface {
	Load(ctx context.Context) <-chan LoadResult
}

// StaticSource serves a fixed slice of documents. Useful for tests and for
// callers that assemble documents themselves.
type StaticSource struct {
	Documents []Document
}

func (s *StaticSource) Load(ctx context.Context) <-chan LoadResult {
	out := make(chan LoadResult)
	go func() {
		defer close(out)
		for _, doc := range s.Documents {
			select {
			case out <- LoadSuccess(doc):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

var _ DocumentSource = (*StaticSource)(nil)
