package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbedderConfig holds embedding service settings.
type EmbedderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	QueryPrefix string
	Timeout     time.Duration
}

// APIEmbedder embeds chunks and queries through an HTTP embedding service
// with an OpenAI-compatible /embeddings endpoint.
type APIEmbedder struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	queryPrefix string
	miniSplit   func(content string) []string
}

// NewAPIEmbedder creates an embedder. miniSplit, when non-nil, produces
// mini-chunk texts whose vectors are attached alongside the full-chunk
// vector; pass nil to disable mini-chunks.
func NewAPIEmbedder(cfg EmbedderConfig, miniSplit func(string) []string) *APIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIEmbedder{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		queryPrefix: cfg.QueryPrefix,
		miniSplit:   miniSplit,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed attaches a full-chunk vector and optional mini-chunk vectors to each
// chunk, preserving order and length. Any failure aborts the batch.
func (e *APIEmbedder) Embed(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	// One flat request: chunk contents first, then mini-chunk texts, with a
	// per-chunk count so vectors can be reassembled afterwards.
	var texts []string
	miniCounts := make([]int, len(chunks))
	var minis [][]string
	for i, chunk := range chunks {
		texts = append(texts, chunk.Content)
		var m []string
		if e.miniSplit != nil {
			m = e.miniSplit(chunk.Content)
		}
		minis = append(minis, m)
		miniCounts[i] = len(m)
	}
	for _, m := range minis {
		texts = append(texts, m...)
	}

	vectors, err := e.embedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	out := make([]EmbeddedChunk, len(chunks))
	cursor := len(chunks)
	for i, chunk := range chunks {
		emb := ChunkEmbeddings{FullEmbedding: vectors[i]}
		if miniCounts[i] > 0 {
			emb.MiniChunkEmbeddings = vectors[cursor : cursor+miniCounts[i]]
			cursor += miniCounts[i]
		}
		out[i] = EmbeddedChunk{Chunk: chunk, Embeddings: emb}
	}
	return out, nil
}

// EmbedQuery embeds a retrieval query with the asymmetric query prefix.
func (e *APIEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.embedTexts(ctx, []string{e.queryPrefix + query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vectors[0], nil
}

func (e *APIEmbedder) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, respBody)
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(decoded.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding service returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

var (
	_ Embedder      = (*APIEmbedder)(nil)
	_ QueryEmbedder = (*APIEmbedder)(nil)
)
