package indexing

import (
	"context"
	"time"
)

// InsertionRecord reports the outcome of indexing one document.
type InsertionRecord struct {
	DocumentID     string
	AlreadyExisted bool
}

// UpdateRequest mutates stored chunk fields in place without re-embedding.
// Nil fields are left unchanged; a non-nil empty slice assigns the empty set.
type UpdateRequest struct {
	DocumentIDs  []string
	Boost        *float64
	DocumentSets []string
	Access       []string
	Hidden       *bool
}

// IndexFilters restrict a retrieval query. The ACL list, when non-empty, is
// the only access check; there is no post-retrieval filtering.
type IndexFilters struct {
	AccessControlList []string
	SourceType        []string
	DocumentSet       []string
	TimeCutoff        *time.Time
}

// SearchMode selects the engine ranking profile and match clause.
type SearchMode int

const (
	ModeKeyword SearchMode = iota
	ModeSemantic
	ModeHybrid
	ModeAdmin
)

// String returns the mode name used in logs and the API.
func (m SearchMode) String() string {
	switch m {
	case ModeKeyword:
		return "keyword"
	case ModeSemantic:
		return "semantic"
	case ModeHybrid:
		return "hybrid"
	case ModeAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseSearchMode converts a mode name to a SearchMode.
func ParseSearchMode(s string) (SearchMode, bool) {
	switch s {
	case "keyword":
		return ModeKeyword, true
	case "semantic":
		return ModeSemantic, true
	case "hybrid":
		return ModeHybrid, true
	case "admin":
		return ModeAdmin, true
	default:
		return ModeKeyword, false
	}
}

// SearchRequest is one retrieval call against the engine. QueryEmbedding is
// required for semantic and hybrid modes and ignored otherwise. Query must
// already be keyword-edited if the caller wants that.
type SearchRequest struct {
	Mode           SearchMode
	Query          string
	QueryEmbedding []float32
	Filters        IndexFilters
	FavorRecent    bool
	NumToRetrieve  int
}

// InferenceChunk is a retrieved chunk as decoded from an engine hit.
type InferenceChunk struct {
	DocumentID          string
	ChunkID             int
	Blurb               string
	Content             string
	SourceLinks         map[int]string
	SectionContinuation bool
	SourceType          string
	SemanticIdentifier  string
	Boost               float64
	RecencyBias         float64
	Score               float64
	Hidden              bool
	Metadata            map[string]string
	MatchHighlights     []string
	UpdatedAt           *time.Time
}

// DocumentIndex is the engine adapter. Implementations write one chunk per
// engine record and guarantee replace-not-append semantics on re-index.
type DocumentIndex interface {
	// EnsureIndicesExist deploys the schema bundle. Idempotent; preserves data.
	EnsureIndicesExist(ctx context.Context) error

	// Index writes a batch of chunks. Chunks of one document must be
	// contiguous and in ascending chunk id; the replace-on-first-seen
	// protocol relies on it.
	Index(ctx context.Context, chunks []MetadataAwareChunk) ([]InsertionRecord, error)

	// Update assigns boost/document-set/access/hidden values on every chunk
	// of the named documents.
	Update(ctx context.Context, requests []UpdateRequest) error

	// Delete removes every chunk of each document.
	Delete(ctx context.Context, documentIDs []string) error

	// Query runs one retrieval request and decodes the hits.
	Query(ctx context.Context, req SearchRequest) ([]InferenceChunk, error)
}

// Chunker splits a document into ordered chunks under a token budget.
type Chunker interface {
	Chunk(doc *Document) ([]Chunk, error)
}

// Embedder attaches vectors to chunks, preserving input order and length.
// Failure is fatal to the batch.
type Embedder interface {
	Embed(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error)
}

// QueryEmbedder embeds a retrieval query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}
