package vespa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// yqlBase projects exactly the fields needed to reconstruct an InferenceChunk.
func (x *Index) yqlBase() string {
	return fmt.Sprintf(
		"select documentid, %s from %s where ",
		strings.Join([]string{
			fieldDocumentID,
			fieldChunkID,
			fieldBlurb,
			fieldContent,
			fieldSourceType,
			fieldSourceLinks,
			fieldSemanticIdentifier,
			fieldSectionContinuation,
			fieldBoost,
			fieldHidden,
			fieldDocUpdatedAt,
			fieldMetadata,
			fieldContentSummary,
		}, ", "),
		x.cfg.IndexName,
	)
}

// The {defaultIndex: content_summary}userInput clause appears in every mode:
// it is what drives keyword highlighting while n-gram highlighting on the
// content field is not usable.
func (x *Index) keywordClause() string {
	return fmt.Sprintf(
		`({grammar: "weakAnd"}userInput(@query) or ({defaultIndex: "%s"}userInput(@query)))`,
		fieldContentSummary,
	)
}

func (x *Index) semanticClause(numToRetrieve int) string {
	return fmt.Sprintf(
		`(({targetHits: %d}nearestNeighbor(%s, query_embedding)) or ({defaultIndex: "%s"}userInput(@query)))`,
		10*numToRetrieve, fieldEmbeddings, fieldContentSummary,
	)
}

func (x *Index) hybridClause(numToRetrieve int) string {
	// target hits must be at least the value configured in the schema
	targetHits := 10 * numToRetrieve
	if targetHits < 1000 {
		targetHits = 1000
	}
	return fmt.Sprintf(
		`(({targetHits: %d}nearestNeighbor(%s, query_embedding)) or ({grammar: "weakAnd"}userInput(@query)) or ({defaultIndex: "%s"}userInput(@query)))`,
		targetHits, fieldEmbeddings, fieldContentSummary,
	)
}

// Query runs one retrieval request and decodes the hits in engine rank order.
func (x *Index) Query(ctx context.Context, req indexing.SearchRequest) ([]indexing.InferenceChunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("no/empty query received")
	}

	numToRetrieve := req.NumToRetrieve
	if numToRetrieve <= 0 {
		numToRetrieve = x.cfg.NumReturnedHits
	}

	where := x.buildFilters(req.Filters, req.Mode == indexing.ModeAdmin)

	var clause, profile string
	switch req.Mode {
	case indexing.ModeKeyword:
		clause, profile = x.keywordClause(), "keyword_search"
	case indexing.ModeSemantic:
		clause, profile = x.semanticClause(numToRetrieve), "semantic_search"
	case indexing.ModeHybrid:
		clause, profile = x.hybridClause(numToRetrieve), "hybrid_search"
	case indexing.ModeAdmin:
		clause, profile = x.keywordClause(), "admin_search"
	default:
		return nil, fmt.Errorf("unknown search mode %d", req.Mode)
	}

	decay := x.cfg.DocTimeDecay
	if req.FavorRecent {
		decay *= x.cfg.FavorRecentMultiplier
	}

	params := url.Values{}
	params.Set("yql", x.yqlBase()+where+clause)
	params.Set("query", req.Query)
	params.Set("hits", strconv.Itoa(numToRetrieve))
	params.Set("offset", "0")
	params.Set("ranking.profile", profile)
	params.Set("input.query(decay_factor)", strconv.FormatFloat(decay, 'g', -1, 64))

	if req.Mode == indexing.ModeSemantic || req.Mode == indexing.ModeHybrid {
		if len(req.QueryEmbedding) == 0 {
			return nil, fmt.Errorf("%s search requires a query embedding", req.Mode)
		}
		params.Set("input.query(query_embedding)", serializeVector(req.QueryEmbedding))
	}

	var decoded searchResponse
	if err := x.getSearch(ctx, params, &decoded); err != nil {
		return nil, fmt.Errorf("%s search: %w", req.Mode, err)
	}
	return x.decodeHits(decoded.Root.Children)
}

// serializeVector renders an embedding as the engine's literal tensor form.
func serializeVector(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
