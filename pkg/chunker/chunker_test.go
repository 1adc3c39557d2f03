package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Chunker {
	t.Helper()
	c, err := New(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	return c
}

func TestSplitBlankInput(t *testing.T) {
	c := newDefault(t)
	for _, in := range []string{"", "   ", "\n\n\t"} {
		chunks, err := c.Split(in)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	chunks, err := newDefault(t).Split("A short page about Go.")
	require.NoError(t, err)
	assert.Equal(t, []string{"A short page about Go."}, chunks)
}

func TestSplitRespectsSizeAndCoversText(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "word%d ", i)
		if i%37 == 36 {
			sb.WriteString(". ")
		}
	}
	text := strings.TrimSpace(sb.String())

	c := newDefault(t)
	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), c.Size())
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
	assertCoversText(t, text, chunks)
}

func TestSplitKeepsSentenceSeparators(t *testing.T) {
	sentences := make([]string, 6)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Sentence %d %s", i, strings.TrimSpace(strings.Repeat(fmt.Sprintf("tok%d ", i), 50)))
	}
	text := strings.Join(sentences, ". ") + "."

	chunks, err := newDefault(t).Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assertCoversText(t, text, chunks)
	periods := 0
	for _, chunk := range chunks {
		periods += strings.Count(chunk, ".")
	}
	// 分块之间没有重叠（单句长于 overlap），句号总数应与原文一致
	assert.Equal(t, strings.Count(text, "."), periods)
}

// chunkOffsets 返回每个分块在原文中的起始位置；分块按顺序出现，且都是原文的子串。
func chunkOffsets(t *testing.T, text string, chunks []string) []int {
	t.Helper()
	offsets := make([]int, len(chunks))
	from := 0
	for i, chunk := range chunks {
		idx := strings.Index(text[from:], chunk)
		require.GreaterOrEqual(t, idx, 0, "chunk %d is not a substring of the source after offset %d", i, from)
		offsets[i] = from + idx
		from = offsets[i] + 1
	}
	return offsets
}

// assertCoversText 断言原文中每个非空白字符都落在某个分块内。
func assertCoversText(t *testing.T, text string, chunks []string) {
	t.Helper()
	covered := make([]bool, len(text))
	for i, off := range chunkOffsets(t, text, chunks) {
		for k := off; k < off+len(chunks[i]); k++ {
			covered[k] = true
		}
	}
	for k := 0; k < len(text); k++ {
		if text[k] == ' ' || text[k] == '\n' || text[k] == '\t' {
			continue
		}
		if !assert.True(t, covered[k], "byte %d (%q) is not in any chunk", k, text[k]) {
			return
		}
	}
}

func TestSplitOverlapsConsecutiveChunks(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
	}
	chunks, err := newDefault(t).Split(strings.Join(words, " "))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	assert.Contains(t, second, first[len(first)-1], "consecutive chunks share their boundary words")
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("Paragraph one sentence. Another sentence here.\n\n", 60)
	c := newDefault(t)
	a, err := c.Split(text)
	require.NoError(t, err)
	b, err := c.Split(text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewRejectsBadOverlap(t *testing.T) {
	_, err := New(100, 100)
	assert.Error(t, err)
	_, err = New(100, -1)
	assert.Error(t, err)

	c, err := New(0, 50)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, c.Size())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("one"))
	assert.Equal(t, 13, EstimateTokens(strings.Repeat("w ", 10)))
	assert.Equal(t, 3, EstimateTokens("a b c"))
}
