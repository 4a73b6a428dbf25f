package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// chunkUpdate is one pending per-chunk field assignment.
type chunkUpdate struct {
	documentID string
	engineID   string
	body       []byte
}

// Update assigns boost, document-set, access, and hidden values in place on
// every chunk of the named documents. Requests with no fields set are logged
// and skipped; any per-chunk HTTP failure aborts the whole update.
func (x *Index) Update(ctx context.Context, requests []indexing.UpdateRequest) error {
	x.logger.Info().Int("requests", len(requests)).Msg("updating documents")
	start := time.Now()

	var updates []chunkUpdate
	for _, req := range requests {
		fields := map[string]any{}
		if req.Boost != nil {
			fields[fieldBoost] = map[string]any{"assign": *req.Boost}
		}
		if req.DocumentSets != nil {
			fields[fieldDocumentSets] = map[string]any{"assign": weightedSet(req.DocumentSets)}
		}
		if req.Access != nil {
			fields[fieldACL] = map[string]any{"assign": weightedSet(req.Access)}
		}
		if req.Hidden != nil {
			fields[fieldHidden] = map[string]any{"assign": *req.Hidden}
		}
		if len(fields) == 0 {
			x.logger.Error().Strs("document_ids", req.DocumentIDs).Msg("update request received but nothing to update")
			continue
		}

		body, err := json.Marshal(map[string]any{"fields": fields})
		if err != nil {
			return fmt.Errorf("marshal update fields: %w", err)
		}

		for _, docID := range req.DocumentIDs {
			engineIDs, err := x.chunkIDsForDocument(ctx, docID)
			if err != nil {
				return err
			}
			for _, engineID := range engineIDs {
				updates = append(updates, chunkUpdate{
					documentID: docID,
					engineID:   engineID,
					body:       body,
				})
			}
		}
	}

	for from := 0; from < len(updates); from += x.cfg.BatchSize {
		to := from + x.cfg.BatchSize
		if to > len(updates) {
			to = len(updates)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(x.cfg.NumWorkers)
		for _, update := range updates[from:to] {
			update := update
			g.Go(func() error {
				if err := x.putUpdate(gctx, update); err != nil {
					return fmt.Errorf("failed to update document %s: %w", update.documentID, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	x.logger.Info().
		Int("chunks", len(updates)).
		Dur("elapsed", time.Since(start)).
		Msg("finished updating documents")
	return nil
}

func (x *Index) putUpdate(ctx context.Context, update chunkUpdate) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, x.documentURL(update.engineID), bytes.NewReader(update.body))
	if err != nil {
		return fmt.Errorf("create update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := x.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &engineError{status: status, body: string(body)}
	}
	return nil
}

// Delete removes every chunk of each document. Any failure is fatal.
func (x *Index) Delete(ctx context.Context, documentIDs []string) error {
	x.logger.Info().Int("documents", len(documentIDs)).Msg("deleting documents")

	for _, docID := range documentIDs {
		if err := x.deleteDocumentChunks(ctx, docID); err != nil {
			return fmt.Errorf("unable to delete document %s: %w", docID, err)
		}
	}
	return nil
}
