package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestar-kb/lodestar/internal/observability"
)

type fakeTx struct {
	locked     []string
	upserted   []DocumentMetadata
	access     map[string][]string
	sets       map[string][]string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) LockDocuments(_ context.Context, ids []string) error {
	t.locked = append(t.locked, ids...)
	return nil
}

func (t *fakeTx) UpsertDocuments(_ context.Context, batch []DocumentMetadata) error {
	t.upserted = append(t.upserted, batch...)
	return nil
}

func (t *fakeTx) AccessForDocuments(_ context.Context, ids []string) (map[string][]string, error) {
	return t.access, nil
}

func (t *fakeTx) DocumentSetsForDocuments(_ context.Context, ids []string) (map[string][]string, error) {
	return t.sets, nil
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeStore struct {
	tx    *fakeTx
	begun bool
}

func (s *fakeStore) Begin(context.Context) (RecordTx, error) {
	s.begun = true
	return s.tx, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	out := make([]EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = EmbeddedChunk{
			Chunk:      c,
			Embeddings: ChunkEmbeddings{FullEmbedding: []float32{0.1, 0.2}},
		}
	}
	return out, nil
}

type fakeIndex struct {
	indexed  []MetadataAwareChunk
	existing map[string]bool
	err      error
}

func (f *fakeIndex) EnsureIndicesExist(context.Context) error { return nil }

func (f *fakeIndex) Index(_ context.Context, chunks []MetadataAwareChunk) ([]InsertionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.indexed = append(f.indexed, chunks...)

	seen := map[string]bool{}
	var records []InsertionRecord
	for _, c := range chunks {
		if seen[c.Source.ID] {
			continue
		}
		seen[c.Source.ID] = true
		records = append(records, InsertionRecord{
			DocumentID:     c.Source.ID,
			AlreadyExisted: f.existing[c.Source.ID],
		})
	}
	return records, nil
}

func (f *fakeIndex) Update(context.Context, []UpdateRequest) error { return nil }
func (f *fakeIndex) Delete(context.Context, []string) error       { return nil }
func (f *fakeIndex) Query(context.Context, SearchRequest) ([]InferenceChunk, error) {
	return nil, nil
}

func testDocs() []*Document {
	return []*Document{
		{
			ID:                 "doc1",
			SemanticIdentifier: "Doc One",
			SourceType:         SourceWeb,
			Sections: []Section{
				{Text: "Doc one first section.", Link: "https://example.com/1"},
			},
		},
		{
			ID:                 "doc2",
			SemanticIdentifier: "Doc Two",
			SourceType:         SourceSlack,
			Sections: []Section{
				{Text: "Doc two first section.", Link: ""},
				{Text: "Doc two second section.", Link: "https://example.com/2b"},
			},
		},
	}
}

func newTestPipeline(store *fakeStore, index *fakeIndex) *Pipeline {
	return NewPipeline(
		observability.NopLogger(),
		store,
		newTestChunker(100, 0),
		fakeEmbedder{},
		index,
	)
}

func TestPipeline_Run_IndexesBatch(t *testing.T) {
	tx := &fakeTx{
		access: map[string][]string{"doc1": {"u:alice"}, "doc2": {ACLPublic}},
		sets:   map[string][]string{"doc2": {"eng"}},
	}
	store := &fakeStore{tx: tx}
	index := &fakeIndex{existing: map[string]bool{"doc2": true}}

	result, err := newTestPipeline(store, index).Run(context.Background(), testDocs(), IndexAttemptMetadata{ConnectorID: 7, CredentialID: 9})
	require.NoError(t, err)

	// doc2 already existed, so only doc1 is new
	assert.Equal(t, 1, result.NewDocuments)
	assert.Equal(t, 2, result.TotalChunks)

	assert.ElementsMatch(t, []string{"doc1", "doc2"}, tx.locked)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)

	require.Len(t, tx.upserted, 2)
	assert.Equal(t, 7, tx.upserted[0].ConnectorID)
	assert.Equal(t, 9, tx.upserted[0].CredentialID)
	assert.Equal(t, "https://example.com/1", tx.upserted[0].FirstLink)
	// first non-empty link, not the first section's
	assert.Equal(t, "https://example.com/2b", tx.upserted[1].FirstLink)

	require.Len(t, index.indexed, 2)
	byDoc := map[string]MetadataAwareChunk{}
	for _, c := range index.indexed {
		byDoc[c.Source.ID] = c
	}
	assert.Equal(t, []string{"u:alice"}, byDoc["doc1"].Access)
	assert.Equal(t, []string{ACLPublic}, byDoc["doc2"].Access)
	assert.Equal(t, []string{"eng"}, byDoc["doc2"].DocumentSets)
	assert.Empty(t, byDoc["doc1"].DocumentSets)
}

func TestPipeline_Run_RejectsNonUTCTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := time.Now().In(loc)

	store := &fakeStore{tx: &fakeTx{}}
	docs := testDocs()
	docs[0].DocUpdatedAt = &ts

	_, err = newTestPipeline(store, &fakeIndex{}).Run(context.Background(), docs, IndexAttemptMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTC")
	assert.False(t, store.begun, "validation happens before any transaction")
}

func TestPipeline_Run_RollsBackOnEngineFailure(t *testing.T) {
	tx := &fakeTx{access: map[string][]string{}, sets: map[string][]string{}}
	store := &fakeStore{tx: tx}
	index := &fakeIndex{err: errors.New("engine down")}

	_, err := newTestPipeline(store, index).Run(context.Background(), testDocs(), IndexAttemptMetadata{})
	require.Error(t, err)
	assert.True(t, tx.rolledBack, "locks must be released on failure")
	assert.False(t, tx.committed)
}

func TestPipeline_Run_EmptyBatch(t *testing.T) {
	store := &fakeStore{tx: &fakeTx{}}

	result, err := newTestPipeline(store, &fakeIndex{}).Run(context.Background(), nil, IndexAttemptMetadata{})
	require.NoError(t, err)
	assert.Zero(t, result.NewDocuments)
	assert.Zero(t, result.TotalChunks)
	assert.False(t, store.begun)
}

func TestPipeline_Run_NoChunksStillCommits(t *testing.T) {
	tx := &fakeTx{}
	store := &fakeStore{tx: tx}
	index := &fakeIndex{}

	docs := []*Document{{ID: "empty-doc", SemanticIdentifier: "Empty"}}
	result, err := newTestPipeline(store, index).Run(context.Background(), docs, IndexAttemptMetadata{})
	require.NoError(t, err)
	assert.Zero(t, result.TotalChunks)
	assert.True(t, tx.committed)
	assert.Empty(t, index.indexed)
}
