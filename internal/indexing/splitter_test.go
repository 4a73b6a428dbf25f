package indexing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentences_ExactCoverage(t *testing.T) {
	cases := []string{
		"One sentence. Two sentence! Three?\nFour line",
		"No terminal punctuation at all",
		"Decimal 3.14 is not a boundary. But this is.",
		"Trailing whitespace stays attached.   Next one.",
		"",
	}
	for _, text := range cases {
		sentences := splitSentences(text)
		assert.Equal(t, text, strings.Join(sentences, ""), "concatenation must reproduce input: %q", text)
	}
}

func TestSplitSentences_DecimalNotBoundary(t *testing.T) {
	sentences := splitSentences("Pi is 3.14 exactly. Done.")
	require.Len(t, sentences, 2)
	assert.Equal(t, "Pi is 3.14 exactly. ", sentences[0])
	assert.Equal(t, "Done.", sentences[1])
}

func TestSentenceSplitter_Split_TokenBound(t *testing.T) {
	tok := newWordTokenizer()
	s := &sentenceSplitter{tok: tok, chunkSize: 6}

	text := "one two three. four five six. seven eight nine ten. eleven."
	pieces := s.Split(text)
	require.NotEmpty(t, pieces)
	for _, piece := range pieces {
		assert.LessOrEqual(t, tok.CountTokens(piece), 6, "piece %q", piece)
	}
}

func TestSentenceSplitter_Split_OverlapCarriesTrailingSentences(t *testing.T) {
	tok := newWordTokenizer()
	s := &sentenceSplitter{tok: tok, chunkSize: 6, overlap: 3}

	// Three 3-token sentences: windows carry the previous sentence forward.
	pieces := s.Split("a1 a2 a3. b1 b2 b3. c1 c2 c3.")
	require.Len(t, pieces, 2)
	assert.Equal(t, "a1 a2 a3. b1 b2 b3.", pieces[0])
	assert.Equal(t, "b1 b2 b3. c1 c2 c3.", pieces[1])
}

func TestSentenceSplitter_Split_LargeOverlapKeepsTokenBound(t *testing.T) {
	tok := newWordTokenizer()
	s := &sentenceSplitter{tok: tok, chunkSize: 6, overlap: 5}

	// Sentences of 3 and 4 tokens, both under budget. A full 5-token carry
	// plus the 4-token sentence would blow the bound; the carry must shrink.
	pieces := s.Split("a1 a2 a3. b1 b2 b3 b4.")
	require.Len(t, pieces, 2)
	assert.Equal(t, "a1 a2 a3.", pieces[0])
	assert.Equal(t, "b1 b2 b3 b4.", pieces[1])
	for _, piece := range pieces {
		assert.LessOrEqual(t, tok.CountTokens(piece), 6, "piece %q", piece)
	}

	// When part of the tail fits alongside the incoming sentence, it still
	// carries over.
	pieces = s.Split("x1 x2. y1 y2. z1 z2 z3.")
	require.Len(t, pieces, 2)
	assert.Equal(t, "x1 x2. y1 y2.", pieces[0])
	assert.Equal(t, "y1 y2. z1 z2 z3.", pieces[1])
}

func TestSentenceSplitter_Split_IrreducibleSentenceFallsBackToWindows(t *testing.T) {
	tok := newWordTokenizer()
	s := &sentenceSplitter{tok: tok, chunkSize: 10, overlap: 2}

	// 25 words, no sentence boundary anywhere.
	text := words(25, "w")
	pieces := s.Split(text)

	// windows of 10 tokens advancing by 8: [0:10] [8:18] [16:25]
	require.Len(t, pieces, 3)
	for _, piece := range pieces {
		assert.LessOrEqual(t, tok.CountTokens(piece), 10)
	}
	assert.True(t, strings.HasPrefix(pieces[0], "w0 "))
	assert.True(t, strings.HasSuffix(pieces[2], "w24"))
}

func TestSentenceSplitter_Split_EmptyText(t *testing.T) {
	s := &sentenceSplitter{tok: newWordTokenizer(), chunkSize: 10}
	assert.Empty(t, s.Split(""))
}
