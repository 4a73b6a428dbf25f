package vespa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

const summarySeparator = "<sep />"

type searchResponse struct {
	Root struct {
		Children []searchHit `json:"children"`
	} `json:"root"`
}

type searchHit struct {
	ID        string         `json:"id"`
	Relevance float64        `json:"relevance"`
	Fields    map[string]any `json:"fields"`
}

// decodeHits converts engine hits to inference chunks, preserving rank order.
// A hit with null content means its vector is meaningless and keyword search
// cannot fetch it; such hits are logged and dropped, never fatal.
func (x *Index) decodeHits(hits []searchHit) ([]indexing.InferenceChunk, error) {
	var chunks []indexing.InferenceChunk
	for _, hit := range hits {
		if hit.Fields[fieldContent] == nil {
			identifier := hit.ID
			if docid, ok := hit.Fields["documentid"].(string); ok && docid != "" {
				identifier = docid
			}
			x.logger.Error().Str("engine_id", identifier).Msg("hit has no content, dropping")
			continue
		}

		chunk, err := x.hitToInferenceChunk(hit)
		if err != nil {
			return nil, fmt.Errorf("decode hit %s: %w", hit.ID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (x *Index) hitToInferenceChunk(hit searchHit) (indexing.InferenceChunk, error) {
	f := hit.Fields

	metadata := map[string]string{}
	if raw, ok := f[fieldMetadata].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return indexing.InferenceChunk{}, fmt.Errorf("parse metadata: %w", err)
		}
	}

	sourceLinks := map[int]string{}
	if raw, ok := f[fieldSourceLinks].(string); ok && raw != "" {
		byKey := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
			return indexing.InferenceChunk{}, fmt.Errorf("parse source links: %w", err)
		}
		for k, v := range byKey {
			offset, err := strconv.Atoi(k)
			if err != nil {
				return indexing.InferenceChunk{}, fmt.Errorf("parse source link offset %q: %w", k, err)
			}
			sourceLinks[offset] = v
		}
	}

	var updatedAt *time.Time
	if secs, ok := f[fieldDocUpdatedAt].(float64); ok {
		t := time.Unix(int64(secs), 0).UTC()
		updatedAt = &t
	}

	var recencyBias float64
	if features, ok := f["matchfeatures"].(map[string]any); ok {
		recencyBias, _ = features[fieldRecencyBias].(float64)
	}

	semanticIdentifier := stringField(f, fieldSemanticIdentifier)
	if semanticIdentifier == "" {
		x.logger.Error().
			Str("blurb", truncate(stringField(f, fieldBlurb), 50)).
			Msg("chunk has no semantic identifier")
	}

	summary := stringField(f, fieldContentSummary)
	if summary == "" {
		summary = stringField(f, fieldContent)
	}

	boost := defaultBoost
	if v, ok := f[fieldBoost].(float64); ok {
		boost = v
	}
	hidden := false
	if v, ok := f[fieldHidden].(bool); ok {
		hidden = v
	}

	return indexing.InferenceChunk{
		DocumentID:          stringField(f, fieldDocumentID),
		ChunkID:             intField(f, fieldChunkID),
		Blurb:               stringField(f, fieldBlurb),
		Content:             stringField(f, fieldContent),
		SourceLinks:         sourceLinks,
		SectionContinuation: boolField(f, fieldSectionContinuation),
		SourceType:          stringField(f, fieldSourceType),
		SemanticIdentifier:  semanticIdentifier,
		Boost:               boost,
		RecencyBias:         recencyBias,
		Score:               hit.Relevance,
		Hidden:              hidden,
		Metadata:            metadata,
		MatchHighlights:     processDynamicSummary(summary, x.cfg.MaxSummaryLength),
		UpdatedAt:           updatedAt,
	}, nil
}

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// processDynamicSummary splits the engine's dynamic summary on its section
// separator and accumulates sections up to maxLength characters. The section
// that crosses the budget is truncated at its last word; if no whole word
// fits, the ellipsis lands on the previous section instead.
func processDynamicSummary(dynamicSummary string, maxLength int) []string {
	if dynamicSummary == "" {
		return nil
	}

	currentLength := 0
	var processed []string
	for _, section := range strings.Split(dynamicSummary, summarySeparator) {
		runes := []rune(section)
		if currentLength+len(runes) >= maxLength {
			runes = runes[:maxLength-currentLength]
			section = strings.TrimLeft(string(runes), " \t\n\r")

			lastSpace := strings.LastIndex(section, " ")
			if lastSpace == -1 {
				// just a partial word, or nothing at all
				if len(processed) > 0 {
					processed[len(processed)-1] += "..."
				}
				break
			}

			section = section[:lastSpace]
			if strings.ContainsRune(asciiPunctuation, rune(section[len(section)-1])) {
				section = section[:len(section)-1]
			}
			processed = append(processed, section+"...")
			break
		}

		processed = append(processed, section)
		currentLength += len(runes)
	}

	return processed
}

func stringField(f map[string]any, name string) string {
	s, _ := f[name].(string)
	return s
}

func intField(f map[string]any, name string) int {
	v, _ := f[name].(float64)
	return int(v)
}

func boolField(f map[string]any, name string) bool {
	v, _ := f[name].(bool)
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ indexing.DocumentIndex = (*Index)(nil)
