package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lodestar-kb/lodestar/internal/cache"
	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/observability"
)

// ServiceConfig configures the search service.
type ServiceConfig struct {
	// EditKeywordQuery enables stop-word removal on keyword-bearing queries.
	EditKeywordQuery bool
	NumReturnedHits  int
	// DistanceCutoff, when positive, drops semantic hits scoring below it.
	DistanceCutoff float64
	CacheTTL       time.Duration
	CacheEnabled   bool
	KeyPrefix      string
}

// DefaultServiceConfig returns default search service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		EditKeywordQuery: true,
		NumReturnedHits:  50,
		CacheTTL:         5 * time.Minute,
		CacheEnabled:     true,
		KeyPrefix:        "retrieval:search:",
	}
}

// SearchService runs retrieval queries through the engine with an optional
// result cache in front.
type SearchService struct {
	index    indexing.DocumentIndex
	embedder indexing.QueryEmbedder
	cache    cache.Client
	logger   *observability.Logger
	cfg      ServiceConfig
}

// NewSearchService creates a search service. cacheClient may be nil to
// disable caching regardless of config.
func NewSearchService(
	index indexing.DocumentIndex,
	embedder indexing.QueryEmbedder,
	cacheClient cache.Client,
	logger *observability.Logger,
	cfg ServiceConfig,
) *SearchService {
	if cfg.NumReturnedHits <= 0 {
		cfg.NumReturnedHits = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "retrieval:search:"
	}
	return &SearchService{
		index:    index,
		embedder: embedder,
		cache:    cacheClient,
		logger:   logger,
		cfg:      cfg,
	}
}

// Search runs one retrieval request: edits the keyword query, embeds the
// query for vector modes, queries the engine, and caches the decoded result.
func (s *SearchService) Search(
	ctx context.Context,
	mode indexing.SearchMode,
	query string,
	filters indexing.IndexFilters,
	favorRecent bool,
	limit int,
) ([]indexing.InferenceChunk, error) {
	if limit <= 0 {
		limit = s.cfg.NumReturnedHits
	}

	key := s.cacheKey(mode, query, filters, favorRecent, limit)
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	req := indexing.SearchRequest{
		Mode:          mode,
		Query:         query,
		Filters:       filters,
		FavorRecent:   favorRecent,
		NumToRetrieve: limit,
	}

	// Admin queries are run verbatim; keyword editing only helps ranked
	// retrieval for end users.
	if s.cfg.EditKeywordQuery && mode != indexing.ModeAdmin {
		req.Query = QueryProcessing(query)
	}

	if mode == indexing.ModeSemantic || mode == indexing.ModeHybrid {
		embedding, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		req.QueryEmbedding = embedding
	}

	chunks, err := s.index.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	if mode == indexing.ModeSemantic && s.cfg.DistanceCutoff > 0 {
		kept := chunks[:0]
		for _, chunk := range chunks {
			if chunk.Score >= s.cfg.DistanceCutoff {
				kept = append(kept, chunk)
			}
		}
		chunks = kept
	}

	s.cacheSet(ctx, key, chunks)
	return chunks, nil
}

// cacheKey derives a deterministic key from every parameter that changes the
// result set.
func (s *SearchService) cacheKey(
	mode indexing.SearchMode,
	query string,
	filters indexing.IndexFilters,
	favorRecent bool,
	limit int,
) string {
	parts := []string{
		mode.String(),
		query,
		strconv.FormatBool(favorRecent),
		strconv.Itoa(limit),
	}
	parts = append(parts, sortedCopy(filters.AccessControlList)...)
	parts = append(parts, sortedCopy(filters.SourceType)...)
	parts = append(parts, sortedCopy(filters.DocumentSet)...)
	if filters.TimeCutoff != nil {
		parts = append(parts, strconv.FormatInt(filters.TimeCutoff.Unix(), 10))
	}

	combined := ""
	for _, p := range parts {
		combined += p + "|"
	}
	hash := sha256.Sum256([]byte(combined))
	return s.cfg.KeyPrefix + hex.EncodeToString(hash[:16])
}

func (s *SearchService) cacheGet(ctx context.Context, key string) ([]indexing.InferenceChunk, bool) {
	if !s.cfg.CacheEnabled || s.cache == nil {
		return nil, false
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			s.logger.Warn().Err(err).Msg("search cache get failed")
		}
		return nil, false
	}

	var chunks []indexing.InferenceChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		s.logger.Warn().Err(err).Msg("corrupt search cache entry, ignoring")
		return nil, false
	}
	return chunks, true
}

func (s *SearchService) cacheSet(ctx context.Context, key string, chunks []indexing.InferenceChunk) {
	if !s.cfg.CacheEnabled || s.cache == nil {
		return
	}

	data, err := json.Marshal(chunks)
	if err != nil {
		s.logger.Warn().Err(err).Msg("marshal search cache entry failed")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("search cache set failed")
	}
}

func sortedCopy(vals []string) []string {
	out := make([]string, len(vals))
	copy(out, vals)
	sort.Strings(out)
	return out
}

// SearchDoc is the caller-facing projection of a retrieved chunk, one entry
// per hit.
type SearchDoc struct {
	DocumentID         string     `json:"document_id"`
	SemanticIdentifier string     `json:"semantic_identifier"`
	Link               string     `json:"link,omitempty"`
	Blurb              string     `json:"blurb"`
	SourceType         string     `json:"source_type"`
	Boost              float64    `json:"boost"`
	Hidden             bool       `json:"hidden"`
	Score              float64    `json:"score"`
	MatchHighlights    []string   `json:"match_highlights"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// ChunksToSearchDocs projects retrieved chunks for API responses. The chunk's
// first source link stands in for the document link.
func ChunksToSearchDocs(chunks []indexing.InferenceChunk) []SearchDoc {
	docs := make([]SearchDoc, len(chunks))
	for i, chunk := range chunks {
		docs[i] = SearchDoc{
			DocumentID:         chunk.DocumentID,
			SemanticIdentifier: chunk.SemanticIdentifier,
			Link:               chunk.SourceLinks[0],
			Blurb:              chunk.Blurb,
			SourceType:         chunk.SourceType,
			Boost:              chunk.Boost,
			Hidden:             chunk.Hidden,
			Score:              chunk.Score,
			MatchHighlights:    chunk.MatchHighlights,
			UpdatedAt:          chunk.UpdatedAt,
		}
	}
	return docs
}
