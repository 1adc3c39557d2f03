// Package chunker splits cleaned page text into overlapping segments sized for
// embedding, using langchaingo's recursive character splitter.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// Separators are tried in order; the empty separator falls back to per-character splits.
// Separators stay attached to the following piece, so no source character is dropped
// at a chunk boundary.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker is safe for concurrent use.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
	size     int
	overlap  int
}

// New returns a Chunker. Non-positive size falls back to the default, and an
// overlap that is not smaller than size is rejected.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators(Separators),
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
			textsplitter.WithKeepSeparator(true),
		),
		size:    size,
		overlap: overlap,
	}, nil
}

// Split returns the ordered chunks of text. Blank input yields an empty slice and
// blank segments are dropped.
func (c *Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Size is the configured maximum chunk length in runes.
func (c *Chunker) Size() int { return c.size }

// EstimateTokens approximates the token count of a chunk as 1.3 tokens per
// whitespace-separated word, truncated.
func EstimateTokens(chunk string) int {
	return int(float64(len(strings.Fields(chunk))) * 1.3)
}
