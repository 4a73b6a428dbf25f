package vespa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-kb/lodestar/internal/observability"
)

func TestProcessDynamicSummary_UnderBudget(t *testing.T) {
	got := processDynamicSummary("first section<sep />second section", 400)
	assert.Equal(t, []string{"first section", "second section"}, got)
}

func TestProcessDynamicSummary_Empty(t *testing.T) {
	assert.Nil(t, processDynamicSummary("", 400))
}

func TestProcessDynamicSummary_TruncatesAtLastWord(t *testing.T) {
	got := processDynamicSummary("alpha beta gamma delta epsilon", 16)
	// budget cuts inside "gamma"; truncation backs up to the last full word
	require.Len(t, got, 1)
	assert.Equal(t, "alpha beta...", got[0])
}

func TestProcessDynamicSummary_StripsTrailingPunctuation(t *testing.T) {
	got := processDynamicSummary("alpha beta, gamma delta", 12)
	require.Len(t, got, 1)
	assert.Equal(t, "alpha beta...", got[0])
}

func TestProcessDynamicSummary_NoSpaceEllipsisOnPrevious(t *testing.T) {
	got := processDynamicSummary("first<sep />supercalifragilistic", 10)
	require.Len(t, got, 1)
	assert.Equal(t, "first...", got[0])
}

func TestProcessDynamicSummary_NoSpaceNoPrevious(t *testing.T) {
	assert.Empty(t, processDynamicSummary("supercalifragilistic", 10))
}

func TestProcessDynamicSummary_LongInputBounded(t *testing.T) {
	section := strings.Repeat("word ", 200)
	got := processDynamicSummary(section, 400)
	require.Len(t, got, 1)
	assert.LessOrEqual(t, len(got[0]), 404, "max length plus ellipsis")
	assert.True(t, strings.HasSuffix(got[0], "..."))
}

func decodeTestIndex() *Index {
	return NewIndex(Config{
		Host:             "localhost",
		Port:             8081,
		TenantPort:       19071,
		IndexName:        testIndexName,
		MaxSummaryLength: 400,
	}, observability.NopLogger())
}

func TestDecodeHits_FullHit(t *testing.T) {
	idx := decodeTestIndex()

	hits := []searchHit{{
		ID:        "index:content/0/abc",
		Relevance: 0.87,
		Fields: map[string]any{
			fieldDocumentID:          "doc1",
			fieldChunkID:             float64(3),
			fieldBlurb:               "the blurb",
			fieldContent:             "the content",
			fieldContentSummary:      "match one<sep />match two",
			fieldSourceType:          "slack",
			fieldSourceLinks:         `{"0":"https://example.com","42":"https://example.com/b"}`,
			fieldSemanticIdentifier:  "Doc One",
			fieldSectionContinuation: true,
			fieldBoost:               float64(2),
			fieldHidden:              false,
			fieldDocUpdatedAt:        float64(1690848000),
			fieldMetadata:            `{"team":"search"}`,
			"matchfeatures":          map[string]any{fieldRecencyBias: 0.75},
		},
	}}

	chunks, err := idx.decodeHits(hits)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "doc1", c.DocumentID)
	assert.Equal(t, 3, c.ChunkID)
	assert.Equal(t, "the blurb", c.Blurb)
	assert.Equal(t, "the content", c.Content)
	assert.Equal(t, map[int]string{0: "https://example.com", 42: "https://example.com/b"}, c.SourceLinks)
	assert.True(t, c.SectionContinuation)
	assert.Equal(t, "slack", c.SourceType)
	assert.Equal(t, "Doc One", c.SemanticIdentifier)
	assert.Equal(t, 2.0, c.Boost)
	assert.Equal(t, 0.75, c.RecencyBias)
	assert.Equal(t, 0.87, c.Score)
	assert.False(t, c.Hidden)
	assert.Equal(t, map[string]string{"team": "search"}, c.Metadata)
	assert.Equal(t, []string{"match one", "match two"}, c.MatchHighlights)

	require.NotNil(t, c.UpdatedAt)
	assert.Equal(t, int64(1690848000), c.UpdatedAt.Unix())
	assert.Equal(t, "UTC", c.UpdatedAt.Location().String())
}

func TestDecodeHits_Defaults(t *testing.T) {
	idx := decodeTestIndex()

	chunks, err := idx.decodeHits([]searchHit{{
		Relevance: 0.5,
		Fields: map[string]any{
			fieldDocumentID:         "doc1",
			fieldChunkID:            float64(0),
			fieldContent:            "bare content",
			fieldSemanticIdentifier: "Doc",
		},
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, defaultBoost, c.Boost)
	assert.False(t, c.Hidden)
	assert.Nil(t, c.UpdatedAt)
	assert.Empty(t, c.SourceLinks)
	assert.Empty(t, c.Metadata)
	assert.Equal(t, []string{"bare content"}, c.MatchHighlights, "summary falls back to content")
}

func TestDecodeHits_DropsNullContent(t *testing.T) {
	idx := decodeTestIndex()

	chunks, err := idx.decodeHits([]searchHit{
		{
			ID:     "index:content/0/corrupt",
			Fields: map[string]any{fieldDocumentID: "bad"},
		},
		{
			Relevance: 0.5,
			Fields: map[string]any{
				fieldDocumentID:         "good",
				fieldChunkID:            float64(0),
				fieldContent:            "kept",
				fieldSemanticIdentifier: "Good",
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1, "corrupt hit dropped, query not crashed")
	assert.Equal(t, "good", chunks[0].DocumentID)
}
