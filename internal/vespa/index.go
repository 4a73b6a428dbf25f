package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// Index writes a batch of chunks, one engine record each. Chunks of one
// document must arrive contiguous and in ascending chunk id. The first worker
// to hit a pre-existing document deletes every persisted chunk of it, so a
// re-index that shrinks a document leaves no stale tail chunks behind.
func (x *Index) Index(ctx context.Context, chunks []indexing.MetadataAwareChunk) ([]indexing.InsertionRecord, error) {
	var (
		mu sync.Mutex
		// document ids that existed in the engine before this batch
		existing = map[string]bool{}
		// already_existed flag per document, sticky true
		recorded = map[string]bool{}
		order    []string
	)
	locks := newKeyedMutex()

	for start := 0; start < len(chunks); start += x.cfg.BatchSize {
		end := start + x.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		g, gctx := errgroup.WithContext(ctx)
		// SetLimit blocks Go until a worker frees up, so chunks enter the
		// pool in submission order.
		g.SetLimit(x.cfg.NumWorkers)

		for i := start; i < end; i++ {
			chunk := &chunks[i]
			g.Go(func() error {
				existed, err := x.indexChunk(gctx, chunk, locks, &mu, existing)
				if err != nil {
					return err
				}

				docID := chunk.Source.ID
				mu.Lock()
				if _, seen := recorded[docID]; !seen {
					order = append(order, docID)
				}
				recorded[docID] = recorded[docID] || existed
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	records := make([]indexing.InsertionRecord, len(order))
	for i, docID := range order {
		records[i] = indexing.InsertionRecord{
			DocumentID:     docID,
			AlreadyExisted: recorded[docID],
		}
	}
	return records, nil
}

// indexChunk writes one chunk and reports whether its document pre-existed.
// The probe and delete-all step run under a per-document lock so the replace
// happens exactly once per document per batch.
func (x *Index) indexChunk(
	ctx context.Context,
	chunk *indexing.MetadataAwareChunk,
	locks *keyedMutex,
	mu *sync.Mutex,
	existing map[string]bool,
) (bool, error) {
	docID := chunk.Source.ID
	engineID := ChunkUUID(docID, chunk.ChunkID).String()

	unlock := locks.lock(docID)
	exists, err := x.chunkExists(ctx, engineID)
	if err != nil {
		unlock()
		return false, fmt.Errorf("probe %s: %w", chunk.ShortDescriptor(), err)
	}
	if exists {
		mu.Lock()
		replaced := existing[docID]
		mu.Unlock()
		if !replaced {
			if err := x.deleteDocumentChunks(ctx, docID); err != nil {
				unlock()
				return false, fmt.Errorf("failed to delete pre-existing chunks for document %s: %w", docID, err)
			}
			mu.Lock()
			existing[docID] = true
			mu.Unlock()
		}
	}
	unlock()

	fields := x.buildChunkFields(chunk)
	if err := x.writeChunk(ctx, engineID, fields); err != nil {
		return false, fmt.Errorf("index %s: %w", chunk.ShortDescriptor(), err)
	}

	// Read the flag only after our own write so a sibling's first-seen
	// replace cannot race with it.
	mu.Lock()
	existed := existing[docID]
	mu.Unlock()
	return existed, nil
}

// chunkExists probes the document API for one engine id.
func (x *Index) chunkExists(ctx context.Context, engineID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.documentURL(engineID), nil)
	if err != nil {
		return false, fmt.Errorf("create probe request: %w", err)
	}

	status, body, err := x.do(req)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &engineError{status: status, body: string(body)}
	}
}

// buildChunkFields assembles the engine record for one chunk. content is
// duplicated into content_summary because keyword highlighting only works on
// the summary field.
func (x *Index) buildChunkFields(chunk *indexing.MetadataAwareChunk) map[string]any {
	doc := chunk.Source

	embeddings := map[string][]float32{"full_chunk": chunk.Embeddings.FullEmbedding}
	for i, mini := range chunk.Embeddings.MiniChunkEmbeddings {
		embeddings[fmt.Sprintf("mini_chunk_%d", i)] = mini
	}

	fields := map[string]any{
		fieldDocumentID:          doc.ID,
		fieldChunkID:             chunk.ChunkID,
		fieldBlurb:               chunk.Blurb,
		fieldContent:             chunk.Content,
		fieldContentSummary:      chunk.Content,
		fieldSourceType:          string(doc.SourceType),
		fieldSourceLinks:         marshalJSONString(nonNilLinks(chunk.SourceLinks)),
		fieldSemanticIdentifier:  doc.SemanticIdentifier,
		fieldTitle:               doc.Title(),
		fieldSectionContinuation: chunk.SectionContinuation,
		fieldMetadata:            marshalJSONString(nonNilMetadata(doc.Metadata)),
		fieldEmbeddings:          embeddings,
		fieldBoost:               defaultBoost,
		fieldPrimaryOwners:       doc.PrimaryOwners,
		fieldSecondaryOwners:     doc.SecondaryOwners,
		fieldACL:                 weightedSet(chunk.Access),
		fieldDocumentSets:        weightedSet(chunk.DocumentSets),
	}
	// Untimed documents carry no doc_updated_at; the schema assigns them the
	// untimed sentinel for decay and the time filter treats them specially.
	if doc.DocUpdatedAt != nil {
		fields[fieldDocUpdatedAt] = doc.DocUpdatedAt.Unix()
	}
	return fields
}

// writeChunk posts one record with the retry ladder: 5xx and network errors
// back off for up to 3 tries, a 400 gets a single unicode repair before the
// resubmit, anything else fails immediately.
func (x *Index) writeChunk(ctx context.Context, engineID string, fields map[string]any) error {
	repaired := false

	op := func() error {
		status, body, err := x.postFields(ctx, engineID, fields)
		if err != nil {
			return err
		}
		if status == http.StatusOK {
			return nil
		}

		engErr := &engineError{status: status, body: string(body)}
		switch {
		case status == http.StatusBadRequest && !repaired:
			repaired = true
			repairTextFields(fields)
			status, body, err = x.postFields(ctx, engineID, fields)
			if err != nil {
				return err
			}
			if status == http.StatusOK {
				return nil
			}
			return backoff.Permanent(&engineError{status: status, body: string(body)})
		case status >= 500:
			return engErr
		default:
			return backoff.Permanent(engErr)
		}
	}

	return backoff.Retry(op, x.retryPolicy(ctx))
}

func (x *Index) postFields(ctx context.Context, engineID string, fields map[string]any) (int, []byte, error) {
	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("marshal chunk fields: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.documentURL(engineID), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("create write request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	return x.do(req)
}

// repairTextFields strips invalid unicode from the text-bearing fields after
// a 400, leaving the rest of the record untouched.
func repairTextFields(fields map[string]any) {
	for _, name := range []string{fieldBlurb, fieldSemanticIdentifier, fieldContent, fieldContentSummary} {
		if s, ok := fields[name].(string); ok {
			fields[name] = RemoveInvalidUnicode(s)
		}
	}
}

func (x *Index) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// chunkIDsForDocument scans the engine for every record of a document,
// paginating until a page comes back short.
func (x *Index) chunkIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	var engineIDs []string
	offset := 0

	for {
		params := url.Values{}
		params.Set("yql", fmt.Sprintf(
			"select documentid from %s where %s contains '%s'",
			x.cfg.IndexName, fieldDocumentID, documentID,
		))
		params.Set("timeout", "10s")
		params.Set("offset", strconv.Itoa(offset))
		params.Set("hits", strconv.Itoa(x.cfg.BatchSize))

		var decoded searchResponse
		if err := x.getSearch(ctx, params, &decoded); err != nil {
			return nil, fmt.Errorf("scan chunks for document %s: %w", documentID, err)
		}

		for _, hit := range decoded.Root.Children {
			docid, _ := hit.Fields["documentid"].(string)
			// document API ids look like "id:default:<index>::<uuid>"
			if idx := strings.LastIndex(docid, "::"); idx >= 0 {
				engineIDs = append(engineIDs, docid[idx+2:])
			}
		}

		if len(decoded.Root.Children) < x.cfg.BatchSize {
			return engineIDs, nil
		}
		offset += x.cfg.BatchSize
	}
}

// deleteDocumentChunks removes every engine record of a document. All deletes
// must return 200.
func (x *Index) deleteDocumentChunks(ctx context.Context, documentID string) error {
	engineIDs, err := x.chunkIDsForDocument(ctx, documentID)
	if err != nil {
		return err
	}

	failed := 0
	for _, engineID := range engineIDs {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, x.documentURL(engineID), nil)
		if err != nil {
			return fmt.Errorf("create delete request: %w", err)
		}
		status, body, err := x.do(req)
		if err != nil {
			return fmt.Errorf("delete chunk %s: %w", engineID, err)
		}
		if status != http.StatusOK {
			failed++
			x.logger.Error().
				Str("engine_id", engineID).
				Int("status", status).
				Str("body", string(body)).
				Msg("failed to delete chunk")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d chunk deletes failed", failed, len(engineIDs))
	}
	return nil
}

// weightedSet converts entries to the engine's weighted-set encoding. The
// engine has no plain set type, so every entry gets weight 1.
func weightedSet(entries []string) map[string]int {
	set := make(map[string]int, len(entries))
	for _, e := range entries {
		set[e] = 1
	}
	return set
}

func marshalJSONString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func nonNilLinks(links map[int]string) map[int]string {
	if links == nil {
		return map[int]string{}
	}
	return links
}

func nonNilMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

// lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
