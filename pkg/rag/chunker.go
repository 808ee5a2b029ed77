package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loomlabs/loom/pkg/fault"
)

// Strategy identifies a chunking strategy.
type Strategy string

const (
	// StrategySimple splits into byte-bounded windows with a fixed overlap.
	StrategySimple Strategy = "simple"

	// StrategySentence packs whole sentences into chunks, no overlap.
	StrategySentence Strategy = "sentence"

	// StrategyMarkdown packs paragraph blocks, optionally keeping fenced
	// code blocks whole.
	StrategyMarkdown Strategy = "markdown"
)

// Chunker splits document content into indexable pieces. Chunks are returned
// in source order; concatenating them (minus any configured overlap) recovers
// the source. An empty document yields zero chunks.
type Chunker interface {
	Chunk(content string) ([]string, error)
	Strategy() Strategy
}

// ChunkerConfig configures chunking.
type ChunkerConfig struct {
	// Strategy selects the chunker. Default: "simple".
	Strategy Strategy `yaml:"strategy,omitempty" mapstructure:"strategy"`

	// Size is the maximum chunk size in bytes. Default: 1000.
	Size int `yaml:"size,omitempty" mapstructure:"size"`

	// Overlap is the byte overlap between consecutive chunks for the
	// simple strategy. Must not exceed Size/2. Default: 200.
	Overlap int `yaml:"overlap,omitempty" mapstructure:"overlap"`

	// PreserveCodeBlocks keeps fenced code blocks in one chunk for the
	// markdown strategy. A fence larger than Size stays whole.
	PreserveCodeBlocks bool `yaml:"preserveCodeBlocks,omitempty" mapstructure:"preserveCodeBlocks"`
}

func (c *ChunkerConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySimple
	}
	if c.Size <= 0 {
		c.Size = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
}

func (c *ChunkerConfig) Validate() error {
	switch c.Strategy {
	case StrategySimple, StrategySentence, StrategyMarkdown:
	default:
		return fault.Validation("rag.chunker", "strategy", fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if c.Size <= 0 {
		return fault.Validation("rag.chunker", "size", "chunk size must be positive")
	}
	if c.Overlap > c.Size/2 {
		return fault.Validation("rag.chunker", "overlap",
			fmt.Sprintf("overlap %d exceeds half the chunk size %d", c.Overlap, c.Size))
	}
	return nil
}

// NewChunker builds a chunker from configuration.
func NewChunker(cfg ChunkerConfig) (Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case StrategySentence:
		return &SentenceChunker{size: cfg.Size}, nil
	case StrategyMarkdown:
		return &MarkdownChunker{size: cfg.Size, preserveCode: cfg.PreserveCodeBlocks}, nil
	default:
		return &SimpleChunker{size: cfg.Size, overlap: cfg.Overlap}, nil
	}
}

// SimpleChunker emits windows of at most size bytes, never splitting a rune.
// Consecutive chunks share the configured overlap, so dropping the
// overlapping prefix of every chunk after the first reassembles the source
// exactly. Window and overlap boundaries shift back to the nearest rune start,
// so on multi-byte text the effective overlap can exceed the configured value
// by up to three bytes.
type SimpleChunker struct {
	size    int
	overlap int
}

func NewSimpleChunker(size, overlap int) (*SimpleChunker, error) {
	cfg := ChunkerConfig{Strategy: StrategySimple, Size: size, Overlap: overlap}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SimpleChunker{size: size, overlap: overlap}, nil
}

func (c *SimpleChunker) Chunk(content string) ([]string, error) {
	if content == "" {
		return nil, nil
	}
	if len(content) <= c.size {
		return []string{content}, nil
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= len(content) {
			chunks = append(chunks, content[start:])
			return chunks, nil
		}
		end = alignToRuneStart(content, end)
		if end <= start {
			// A single rune wider than the window; it cannot be split.
			_, width := utf8.DecodeRuneInString(content[start:])
			end = start + width
		}
		chunks = append(chunks, content[start:end])
		next := alignToRuneStart(content, end-c.overlap)
		if next <= start {
			next = end
		}
		start = next
	}
}

// alignToRuneStart moves i back to the nearest rune boundary at or before i.
func alignToRuneStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func (c *SimpleChunker) Strategy() Strategy { return StrategySimple }

// SentenceChunker packs whole sentences until the target size is reached.
// A single sentence longer than the target becomes its own chunk.
type SentenceChunker struct {
	size int
}

func NewSentenceChunker(size int) *SentenceChunker {
	if size <= 0 {
		size = 1000
	}
	return &SentenceChunker{size: size}
}

func (c *SentenceChunker) Chunk(content string) ([]string, error) {
	if content == "" {
		return nil, nil
	}
	return packSegments(splitSentences(content), c.size), nil
}

func (c *SentenceChunker) Strategy() Strategy { return StrategySentence }

// splitSentences cuts after terminal punctuation followed by a space, and
// after newlines. No characters are dropped, so rejoining the segments
// reproduces the input.
func splitSentences(content string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			segments = append(segments, content[start:i+1])
			start = i + 1
		case '.', '!', '?':
			if i+1 == len(content) || content[i+1] == ' ' {
				segments = append(segments, content[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(content) {
		segments = append(segments, content[start:])
	}
	return segments
}

// MarkdownChunker packs paragraph blocks separated by blank lines. With
// preserveCode set, a fenced code block is treated as one block regardless
// of blank lines inside it.
type MarkdownChunker struct {
	size         int
	preserveCode bool
}

func NewMarkdownChunker(size int, preserveCodeBlocks bool) *MarkdownChunker {
	if size <= 0 {
		size = 1000
	}
	return &MarkdownChunker{size: size, preserveCode: preserveCodeBlocks}
}

func (c *MarkdownChunker) Chunk(content string) ([]string, error) {
	if content == "" {
		return nil, nil
	}
	return packSegments(c.blocks(content), c.size), nil
}

func (c *MarkdownChunker) Strategy() Strategy { return StrategyMarkdown }

func (c *MarkdownChunker) blocks(content string) []string {
	lines := strings.SplitAfter(content, "\n")
	var blocks []string
	var current strings.Builder
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if c.preserveCode && strings.HasPrefix(trimmed, "```") {
			current.WriteString(line)
			if inFence {
				blocks = append(blocks, current.String())
				current.Reset()
			}
			inFence = !inFence
			continue
		}

		current.WriteString(line)
		if !inFence && trimmed == "" && current.Len() > 0 {
			blocks = append(blocks, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		blocks = append(blocks, current.String())
	}
	return blocks
}

// packSegments greedily fills chunks with consecutive segments up to the
// target size, keeping segment boundaries intact.
func packSegments(segments []string, size int) []string {
	var chunks []string
	var current strings.Builder
	for _, seg := range segments {
		if current.Len() > 0 && current.Len()+len(seg) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

var (
	_ Chunker = (*SimpleChunker)(nil)
	_ Chunker = (*SentenceChunker)(nil)
	_ Chunker = (*MarkdownChunker)(nil)
)
