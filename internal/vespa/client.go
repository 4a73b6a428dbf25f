// Package vespa implements the DocumentIndex engine adapter: per-chunk
// writes with replace-not-append semantics, in-place field updates, document
// deletion, YQL retrieval, and schema deployment.
package vespa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lodestar-kb/lodestar/internal/observability"
)

// Engine field names, defined by the chunk schema in the deployment bundle.
const (
	fieldDocumentID          = "document_id"
	fieldChunkID             = "chunk_id"
	fieldBlurb               = "blurb"
	fieldContent             = "content"
	fieldContentSummary      = "content_summary"
	fieldSourceType          = "source_type"
	fieldSourceLinks         = "source_links"
	fieldSemanticIdentifier  = "semantic_identifier"
	fieldTitle               = "title"
	fieldSectionContinuation = "section_continuation"
	fieldMetadata            = "metadata"
	fieldEmbeddings          = "embeddings"
	fieldBoost               = "boost"
	fieldDocUpdatedAt        = "doc_updated_at"
	fieldPrimaryOwners       = "primary_owners"
	fieldSecondaryOwners     = "secondary_owners"
	fieldACL                 = "access_control_list"
	fieldDocumentSets        = "document_sets"
	fieldHidden              = "hidden"
	fieldRecencyBias         = "recency_bias"
)

const defaultBoost = 1.0

// Config holds engine connection and behavior settings.
type Config struct {
	Host              string
	Port              int
	TenantPort        int
	IndexName         string
	DeploymentZipPath string

	DocTimeDecay          float64
	FavorRecentMultiplier float64
	NumReturnedHits       int

	BatchSize        int
	NumWorkers       int
	UntimedDocCutoff time.Duration
	MaxSummaryLength int
}

// Index is the engine adapter. One chunk maps to one engine record keyed by a
// deterministic UUID; all writes go through the per-chunk document API since
// the engine has no bulk write endpoint.
type Index struct {
	cfg        Config
	appURL     string
	configURL  string
	httpClient *http.Client
	logger     *observability.Logger
	now        func() time.Time
}

// NewIndex creates an engine adapter. Zero batch/worker/cutoff settings fall
// back to defaults.
func NewIndex(cfg Config, logger *observability.Logger) *Index {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 32
	}
	if cfg.UntimedDocCutoff <= 0 {
		cfg.UntimedDocCutoff = 92 * 24 * time.Hour
	}
	if cfg.MaxSummaryLength <= 0 {
		cfg.MaxSummaryLength = 400
	}
	if cfg.NumReturnedHits <= 0 {
		cfg.NumReturnedHits = 50
	}
	return &Index{
		cfg:        cfg,
		appURL:     fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		configURL:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.TenantPort),
		httpClient: &http.Client{},
		logger:     logger,
		now:        time.Now,
	}
}

// documentURL returns the per-chunk document API URL for an engine id.
func (x *Index) documentURL(engineID string) string {
	return fmt.Sprintf("%s/document/v1/default/%s/docid/%s", x.appURL, x.cfg.IndexName, engineID)
}

func (x *Index) searchURL() string {
	return x.appURL + "/search/"
}

// engineError is a non-2xx engine response.
type engineError struct {
	status int
	body   string
}

func (e *engineError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.status, e.body)
}

// do sends a request and returns the status and body.
func (x *Index) do(req *http.Request) (int, []byte, error) {
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// getSearch runs one search API request and decodes the response.
func (x *Index) getSearch(ctx context.Context, params url.Values, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.searchURL()+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}

	status, body, err := x.do(req)
	if err != nil {
		return fmt.Errorf("search request: %w", err)
	}
	if status != http.StatusOK {
		return &engineError{status: status, body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}
